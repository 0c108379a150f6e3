package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Repair interrupted writes",
		Long:  "Re-append missing bookkeeping events for base rows that exist without them, then consolidate episodes that have evidence but no candidates yet. Safe to run repeatedly.",
		Run:   runRecover,
	}

	cmd.Flags().String("producer", "recovery", "Producer name stamped on repair events")
	cmd.Flags().Bool("skip-consolidation", false, "Skip consolidating unprocessed episodes")

	RootCmd.AddCommand(cmd)
}

func runRecover(cmd *cobra.Command, args []string) {
	producer, _ := cmd.Flags().GetString("producer")
	skip, _ := cmd.Flags().GetBool("skip-consolidation")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Recover(cmd.Context(), producer, !skip)
	if err != nil {
		exitErr("recover", err)
	}
	printResult(res)
}
