package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/tkwade/memdeck/internal/store"
)

var errInvalidResolution = errors.New("resolution must be confirm or refute")

func init() {
	cmd := &cobra.Command{
		Use:   "dispute",
		Short: "Record or resolve disputes against cards",
	}

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record a dispute against a card",
		Long:  "Record evidence that contradicts a card. Accumulated dispute mass above the card's scope threshold flips it to needs_recheck.",
		Run:   runDisputeRecord,
	}
	recordCmd.Flags().StringP("episode", "e", "", "Episode id (required)")
	recordCmd.Flags().StringP("card", "c", "", "Card id (required)")
	recordCmd.Flags().String("evidence", "", "Contradicting evidence ref id (required)")
	recordCmd.Flags().String("producer", "", "Producer name stamped on events")
	recordCmd.MarkFlagRequired("episode")
	recordCmd.MarkFlagRequired("card")
	recordCmd.MarkFlagRequired("evidence")

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a dispute by confirming or refuting the card",
		Run:   runDisputeResolve,
	}
	resolveCmd.Flags().StringP("episode", "e", "", "Episode id (required)")
	resolveCmd.Flags().StringP("card", "c", "", "Card id (required)")
	resolveCmd.Flags().String("evidence", "", "Resolving evidence ref id (required)")
	resolveCmd.Flags().StringP("resolution", "r", "", "Resolution: confirm or refute (required)")
	resolveCmd.Flags().String("producer", "", "Producer name stamped on events")
	resolveCmd.MarkFlagRequired("episode")
	resolveCmd.MarkFlagRequired("card")
	resolveCmd.MarkFlagRequired("evidence")
	resolveCmd.MarkFlagRequired("resolution")

	cmd.AddCommand(recordCmd, resolveCmd)
	RootCmd.AddCommand(cmd)
}

func runDisputeRecord(cmd *cobra.Command, args []string) {
	episodeID, _ := cmd.Flags().GetString("episode")
	cardID, _ := cmd.Flags().GetString("card")
	evidenceRefID, _ := cmd.Flags().GetString("evidence")
	producer, _ := cmd.Flags().GetString("producer")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.RecordDispute(cmd.Context(), episodeID, cardID, evidenceRefID, producer)
	if err != nil {
		exitErr("dispute record", err)
	}
	printResult(res)
}

func runDisputeResolve(cmd *cobra.Command, args []string) {
	episodeID, _ := cmd.Flags().GetString("episode")
	cardID, _ := cmd.Flags().GetString("card")
	evidenceRefID, _ := cmd.Flags().GetString("evidence")
	resolution, _ := cmd.Flags().GetString("resolution")
	producer, _ := cmd.Flags().GetString("producer")

	if resolution != store.ResolutionConfirm && resolution != store.ResolutionRefute {
		exitErr("dispute resolve", errInvalidResolution)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.ResolveDispute(cmd.Context(), episodeID, cardID, evidenceRefID, resolution, producer)
	if err != nil {
		exitErr("dispute resolve", err)
	}
	printResult(res)
}
