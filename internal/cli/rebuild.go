package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Full rebuild with drift reporting",
		Long:  "Replay the log and report projection counts and digest drift. With --verify, replay a second time and confirm the digests agree.",
		Run:   runRebuild,
	}

	cmd.Flags().Bool("verify", false, "Replay twice and compare digests")

	RootCmd.AddCommand(cmd)
}

func runRebuild(cmd *cobra.Command, args []string) {
	verify, _ := cmd.Flags().GetBool("verify")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.FullRebuild(cmd.Context(), verify)
	if err != nil {
		exitErr("rebuild", err)
	}
	printResult(res)
}
