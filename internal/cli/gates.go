package cli

import (
	"github.com/spf13/cobra"
	"github.com/tkwade/memdeck/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "gates",
		Short: "Evaluate causal instrumentation readiness",
		Long:  "Check whether retrieval quality is stable, store growth is bounded, utility has plateaued, and event volume is high enough for causal instrumentation to be worth turning on.",
		Run:   runGates,
	}

	cmd.Flags().Int("days", store.DefaultTrendDays, "Evaluation window in days")

	RootCmd.AddCommand(cmd)
}

func runGates(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rep, err := s.EvaluateGates(cmd.Context(), days)
	if err != nil {
		exitErr("gates", err)
	}
	printResult(rep)
}
