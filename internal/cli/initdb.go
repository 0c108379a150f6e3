package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the database",
		Run:   runInit,
	}

	RootCmd.AddCommand(cmd)
}

func runInit(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("init", err)
	}
	defer s.Close()

	printResult(map[string]string{"status": "ok", "db_path": getDBPath()})
}
