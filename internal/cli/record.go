package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tkwade/memdeck/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an episode",
		Long:  "Record an episode from a JSON document. The document can be a file via --input or piped via stdin. Artifacts and evidence refs ride along in the same document.",
		Run:   runRecord,
	}

	cmd.Flags().StringP("input", "i", "", "Path to episode JSON (default: stdin)")
	cmd.Flags().String("producer", "", "Producer name stamped on events")
	cmd.Flags().Bool("consolidate", false, "Run consolidation immediately after recording")

	RootCmd.AddCommand(cmd)
}

func readJSONInput(cmd *cobra.Command, v any) error {
	path, _ := cmd.Flags().GetString("input")
	var raw []byte
	var err error
	if path != "" {
		raw, err = os.ReadFile(path)
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return fmt.Errorf("no input: pass --input or pipe JSON via stdin")
		}
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func runRecord(cmd *cobra.Command, args []string) {
	var in store.EpisodeInput
	if err := readJSONInput(cmd, &in); err != nil {
		exitErr("read episode", err)
	}
	producer, _ := cmd.Flags().GetString("producer")
	consolidate, _ := cmd.Flags().GetBool("consolidate")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rec, err := s.RecordEpisode(cmd.Context(), in, producer)
	if err != nil {
		exitErr("record", err)
	}

	if consolidate {
		cons, err := s.ConsolidateEpisode(cmd.Context(), rec.EpisodeID, producer)
		if err != nil {
			exitErr("consolidate", err)
		}
		printResult(map[string]any{"record": rec, "consolidation": cons})
		return
	}
	printResult(rec)
}
