package cli

import (
	"github.com/spf13/cobra"
	"github.com/tkwade/memdeck/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store status and trends",
		Run:   runStatus,
	}

	cmd.Flags().Int("days", store.DefaultTrendDays, "Trend window in days")

	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rep, err := s.Status(cmd.Context(), days)
	if err != nil {
		exitErr("status", err)
	}
	printResult(rep)
}
