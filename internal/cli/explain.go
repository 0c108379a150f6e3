package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Explain pack or consolidation decisions",
	}

	packCmd := &cobra.Command{
		Use:   "pack <episode-id>",
		Short: "Explain why each card made or missed a pack",
		Args:  cobra.ExactArgs(1),
		Run:   runExplainPack,
	}
	packCmd.Flags().String("pack", "", "Specific pack id (default: latest for the episode)")

	consCmd := &cobra.Command{
		Use:   "consolidation <episode-id>",
		Short: "Explain an episode's consolidation decisions",
		Args:  cobra.ExactArgs(1),
		Run:   runExplainConsolidation,
	}

	cmd.AddCommand(packCmd, consCmd)
	RootCmd.AddCommand(cmd)
}

func runExplainPack(cmd *cobra.Command, args []string) {
	packID, _ := cmd.Flags().GetString("pack")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.ExplainPack(cmd.Context(), args[0], packID)
	if err != nil {
		exitErr("explain pack", err)
	}
	printResult(res)
}

func runExplainConsolidation(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.ExplainConsolidation(cmd.Context(), args[0])
	if err != nil {
		exitErr("explain consolidation", err)
	}
	printResult(res)
}
