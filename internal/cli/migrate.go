package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "migrate-embeddings",
		Short: "Re-embed cards under a new model",
		Long:  "Re-derive stored embedding vectors under a new model. Embeddings are a droppable projection, so no events are written.",
		Run:   runMigrateEmbeddings,
	}

	cmd.Flags().String("to", "", "Target embedding model (required)")
	cmd.Flags().String("from", "", "Only migrate cards still on this model")
	cmd.Flags().Int("dims", 0, "Vector dimensions (default: policy setting)")
	cmd.MarkFlagRequired("to")

	RootCmd.AddCommand(cmd)
}

func runMigrateEmbeddings(cmd *cobra.Command, args []string) {
	toModel, _ := cmd.Flags().GetString("to")
	fromModel, _ := cmd.Flags().GetString("from")
	dims, _ := cmd.Flags().GetInt("dims")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.MigrateEmbeddings(cmd.Context(), toModel, dims, fromModel)
	if err != nil {
		exitErr("migrate-embeddings", err)
	}
	printResult(res)
}
