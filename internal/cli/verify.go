package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify reducer idempotency",
		Long:  "Replay the log twice and re-append a sample of logged events under their original idempotency keys. A healthy store shows identical digests and zero retry insertions.",
		Run:   runVerify,
	}

	cmd.Flags().Int("sample", 100, "Number of events to re-append")

	RootCmd.AddCommand(cmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	sample, _ := cmd.Flags().GetInt("sample")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.VerifyIdempotency(cmd.Context(), sample)
	if err != nil {
		exitErr("verify", err)
	}
	printResult(res)
}
