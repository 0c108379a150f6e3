package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/tkwade/memdeck/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "pack <episode-id> [query]",
		Short: "Build a memory pack for an episode",
		Long:  "Select the top cards for an episode under slot and topic caps, snapshot the full ranking, and record one exposure event for the pack.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPack,
	}

	cmd.Flags().StringP("channel", "c", model.ChannelAutoPack, "Exposure channel: auto_pack or search")
	cmd.Flags().String("producer", "", "Producer name stamped on events")

	RootCmd.AddCommand(cmd)
}

func runPack(cmd *cobra.Command, args []string) {
	channel, _ := cmd.Flags().GetString("channel")
	producer, _ := cmd.Flags().GetString("producer")
	query := strings.Join(args[1:], " ")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	res, err := s.BuildPack(cmd.Context(), args[0], query, channel, producer)
	if err != nil {
		exitErr("pack", err)
	}
	printResult(res)
}
