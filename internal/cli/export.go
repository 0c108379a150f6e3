package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export <episode-id>",
		Short: "Export an episode's event stream",
		Run:   runExport,
		Args:  cobra.ExactArgs(1),
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	events, err := s.ExportEpisode(cmd.Context(), args[0])
	if err != nil {
		exitErr("export", err)
	}
	printResult(events)
}
