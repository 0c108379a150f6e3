package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild projections from the event log",
		Long:  "Drop every projection table and re-fold the full event log in order. Projections are disposable; the log is the source of truth.",
		Run:   runReplay,
	}

	RootCmd.AddCommand(cmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Replay(cmd.Context())
	if err != nil {
		exitErr("replay", err)
	}
	printResult(res)
}
