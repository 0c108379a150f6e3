package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate <episode-id>",
		Short: "Consolidate an episode into cards",
		Long:  "Run the consolidation pipeline for one episode: propose candidates, apply admission gates, and admit, merge, or reject each one. Safe to re-run.",
		Args:  cobra.ExactArgs(1),
		Run:   runConsolidate,
	}

	cmd.Flags().String("producer", "", "Producer name stamped on events")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	producer, _ := cmd.Flags().GetString("producer")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.ConsolidateEpisode(cmd.Context(), args[0], producer)
	if err != nil {
		exitErr("consolidate", err)
	}
	printResult(res)
}
