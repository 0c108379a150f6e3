// Package cli implements the memdeck CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tkwade/memdeck/internal/policy"
	"github.com/tkwade/memdeck/internal/store"
)

var (
	dbPath     string
	policyPath string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memdeck",
	Short: "Event-sourced memory substrate for AI agents",
	Long:  "An append-only memory store for a coding agent. Episodes in, knowledge cards out. SQLite-backed, single binary, fully replayable.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMDECK_DB or ~/.memdeck/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&policyPath, "policy", "p", "", "Policy file path (default: $MEMDECK_POLICY, else built-in defaults)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or compact")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("MEMDECK_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memdeck", "memory.db")
}

func getPolicy() (*policy.Policy, error) {
	path := policyPath
	if path == "" {
		path = os.Getenv("MEMDECK_POLICY")
	}
	if path == "" {
		return policy.Default(), nil
	}
	return policy.Load(path)
}

func openStore() (*store.Store, error) {
	pol, err := getPolicy()
	if err != nil {
		return nil, err
	}
	return store.Open(getDBPath(), pol)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printResult(v any) {
	var b []byte
	if formatFlag == "compact" {
		b, _ = json.Marshal(v)
	} else {
		b, _ = json.MarshalIndent(v, "", "  ")
	}
	fmt.Println(string(b))
}
