package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the maintenance sweep daemon",
		Long:  "Run dedup sweeps on a cron schedule until interrupted. Each run opens the store, sweeps, and closes, so the daemon never holds the database between runs.",
		Run:   runSweep,
	}

	cmd.Flags().StringP("schedule", "s", "@daily", "Cron schedule for sweep runs")
	cmd.Flags().String("producer", "sweep_daemon", "Producer name stamped on events")
	cmd.Flags().Bool("once", false, "Run a single sweep and exit")

	RootCmd.AddCommand(cmd)
}

func sweepOnce(producer string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.DedupSweep(context.Background(), producer)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func runSweep(cmd *cobra.Command, args []string) {
	schedule, _ := cmd.Flags().GetString("schedule")
	producer, _ := cmd.Flags().GetString("producer")
	once, _ := cmd.Flags().GetBool("once")

	if once {
		if err := sweepOnce(producer); err != nil {
			exitErr("sweep", err)
		}
		return
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := sweepOnce(producer); err != nil {
			fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		}
	})
	if err != nil {
		exitErr("parse schedule", err)
	}
	c.Start()
	defer c.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
