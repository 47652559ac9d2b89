package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sensorhub-io/sensorhub/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the simulated device fleet until interrupted",
	Long: `Starts one producer per simulated device. Each producer emits a
reading on its own randomized interval; readings are batched per device
and written to the store. Runs until SIGINT/SIGTERM, then drains
buffered batches and reports counters.`,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	st, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	engineCfg, err := cfg.ToIngestConfig()
	if err != nil {
		return err
	}

	engine, err := ingest.New(engineCfg, st)
	if err != nil {
		return err
	}

	if err := engine.Start(context.Background()); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down...")
	if err := engine.Stop(); err != nil {
		return err
	}

	stats := engine.Stats()
	fmt.Printf("readings generated: %d\n", stats.ReadingsGenerated)
	fmt.Printf("readings written:   %d\n", stats.ReadingsWritten)
	fmt.Printf("batches flushed:    %d\n", stats.BatchesFlushed)
	fmt.Printf("write retries:      %d\n", stats.WriteRetries)
	fmt.Printf("readings dropped:   %d\n", stats.ReadingsDropped)
	return nil
}
