package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Run one dedup sweep",
		Long:  "Scan active cards for hard duplicates within the same kind and scope, keep the best-evidenced card of each group, and archive the rest.",
		Run:   runDedup,
	}

	cmd.Flags().String("producer", "", "Producer name stamped on events")

	RootCmd.AddCommand(cmd)
}

func runDedup(cmd *cobra.Command, args []string) {
	producer, _ := cmd.Flags().GetString("producer")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.DedupSweep(cmd.Context(), producer)
	if err != nil {
		exitErr("dedup", err)
	}
	printResult(res)
}
