package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/tkwade/memdeck/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search cards",
		Long:  "Score every eligible card against the query and return the top matches with per-signal score components.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("episode", "e", "", "Episode id for scope context")
	cmd.Flags().IntP("limit", "l", 20, "Maximum results")
	cmd.Flags().Bool("archived", false, "Include archived cards")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	episodeID, _ := cmd.Flags().GetString("episode")
	limit, _ := cmd.Flags().GetInt("limit")
	archived, _ := cmd.Flags().GetBool("archived")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	cards, err := s.Retrieve(cmd.Context(), store.RetrieveParams{
		Query:           strings.Join(args, " "),
		EpisodeID:       episodeID,
		IncludeArchived: archived,
		Limit:           limit,
	})
	if err != nil {
		exitErr("search", err)
	}
	printResult(cards)
}
