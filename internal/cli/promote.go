package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote a card to a wider scope",
		Long:  "Promote a card one scope tier: repo to domain, or domain to global. Promotion needs user-span evidence, or wins in multiple repos for the first hop.",
		Run:   runPromote,
	}

	cmd.Flags().StringP("episode", "e", "", "Episode id (required)")
	cmd.Flags().StringP("card", "c", "", "Card id (required)")
	cmd.Flags().String("scope", "", "Target scope id (default: 'default')")
	cmd.Flags().String("evidence", "", "Supporting evidence ref id")
	cmd.Flags().String("producer", "", "Producer name stamped on events")
	cmd.MarkFlagRequired("episode")
	cmd.MarkFlagRequired("card")

	RootCmd.AddCommand(cmd)
}

func runPromote(cmd *cobra.Command, args []string) {
	episodeID, _ := cmd.Flags().GetString("episode")
	cardID, _ := cmd.Flags().GetString("card")
	scopeID, _ := cmd.Flags().GetString("scope")
	evidenceRefID, _ := cmd.Flags().GetString("evidence")
	producer, _ := cmd.Flags().GetString("producer")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.PromoteCard(cmd.Context(), episodeID, cardID, scopeID, evidenceRefID, producer)
	if err != nil {
		exitErr("promote", err)
	}
	printResult(res)
}
