package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ledger <episode-id>",
		Short: "Show an episode's consolidation ledger",
		Run:   runLedger,
		Args:  cobra.ExactArgs(1),
	}

	RootCmd.AddCommand(cmd)
}

func runLedger(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ledger, err := s.Ledger(cmd.Context(), args[0])
	if err != nil {
		exitErr("ledger", err)
	}
	printResult(ledger)
}
