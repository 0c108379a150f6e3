package cli

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "outcome",
		Short: "Record an episode outcome",
		Long:  "Record a terminal outcome for an episode. Anchored outcomes (with evidence refs) feed tactic utility attribution.",
		Run:   runOutcome,
	}

	cmd.Flags().StringP("episode", "e", "", "Episode id (required)")
	cmd.Flags().StringP("type", "t", "", "Outcome type: tool_success, tool_failure, user_confirmed_helpful, user_corrected (required)")
	cmd.Flags().String("evidence", "", "Comma-separated evidence ref ids")
	cmd.Flags().String("meta", "", "JSON metadata")
	cmd.Flags().String("producer", "", "Producer name stamped on events")
	cmd.MarkFlagRequired("episode")
	cmd.MarkFlagRequired("type")

	RootCmd.AddCommand(cmd)
}

func runOutcome(cmd *cobra.Command, args []string) {
	episodeID, _ := cmd.Flags().GetString("episode")
	outcomeType, _ := cmd.Flags().GetString("type")
	evidenceStr, _ := cmd.Flags().GetString("evidence")
	metaStr, _ := cmd.Flags().GetString("meta")
	producer, _ := cmd.Flags().GetString("producer")

	var evidenceRefIDs []string
	for _, id := range strings.Split(evidenceStr, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			evidenceRefIDs = append(evidenceRefIDs, id)
		}
	}

	var metadata map[string]any
	if metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &metadata); err != nil {
			exitErr("parse meta", err)
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.RecordOutcome(cmd.Context(), episodeID, outcomeType, evidenceRefIDs, metadata, producer)
	if err != nil {
		exitErr("outcome", err)
	}
	printResult(res)
}
