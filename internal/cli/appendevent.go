package cli

import (
	"github.com/spf13/cobra"
	"github.com/tkwade/memdeck/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a raw event to the log",
		Long:  "Append one event to the log under an idempotency key. Retrying the same key returns the original event without writing.",
		Run:   runAppend,
	}

	cmd.Flags().StringP("episode", "e", "", "Episode id (required)")
	cmd.Flags().StringP("type", "t", "", "Event type (required)")
	cmd.Flags().StringP("key", "k", "", "Idempotency key (required)")
	cmd.Flags().StringP("input", "i", "", "Path to payload JSON (default: stdin)")
	cmd.Flags().String("producer", "", "Producer name stamped on the event")

	cmd.MarkFlagRequired("episode")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("key")

	RootCmd.AddCommand(cmd)
}

func runAppend(cmd *cobra.Command, args []string) {
	episodeID, _ := cmd.Flags().GetString("episode")
	eventType, _ := cmd.Flags().GetString("type")
	idemKey, _ := cmd.Flags().GetString("key")
	producer, _ := cmd.Flags().GetString("producer")

	var payload map[string]any
	if err := readJSONInput(cmd, &payload); err != nil {
		exitErr("read payload", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.Append(cmd.Context(), store.AppendParams{
		EpisodeID:      episodeID,
		EventType:      eventType,
		Payload:        payload,
		IdempotencyKey: idemKey,
		Producer:       producer,
	})
	if err != nil {
		exitErr("append", err)
	}
	printResult(res)
}
