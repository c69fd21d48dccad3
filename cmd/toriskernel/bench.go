package main

import (
	"context"
	"time"

	"github.com/justanotherdot-student/toriskernel/internal/braid"
	"github.com/justanotherdot-student/toriskernel/internal/config"
	"github.com/justanotherdot-student/toriskernel/internal/events"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newBenchCmd runs the same workload through both engines and prints a
// structured statistics summary (logrus fields, not the original's
// ASCII-art box) including the sequential/parallel speedup ratio, the
// only externally observable way to confirm spec.md section 8's
// "parallel speedup >= 2.0" scenario (SPEC_FULL.md SUPPLEMENTED FEATURES).
func newBenchCmd() *cobra.Command {
	var cycles int
	var seedEvents int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the sequential and parallel engines over the same workload and report throughput/speedup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			seqElapsed, seqEvents, err := benchSequential(cfg, cycles, seedEvents)
			if err != nil {
				return err
			}
			parElapsed, parEvents, err := benchParallel(cfg, cycles, seedEvents)
			if err != nil {
				return err
			}

			var speedup float64
			if parElapsed > 0 {
				speedup = seqElapsed.Seconds() / parElapsed.Seconds()
			}

			log.WithFields(logrus.Fields{
				"cycles":            cycles,
				"sequential_ms":     seqElapsed.Milliseconds(),
				"sequential_events": seqEvents,
				"parallel_ms":       parElapsed.Milliseconds(),
				"parallel_events":   parEvents,
				"speedup":           speedup,
			}).Info("benchmark complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&cycles, "cycles", 20, "number of braid cycles to run for each engine")
	cmd.Flags().IntVar(&seedEvents, "seed-events", 64, "synthetic events to seed into each instance before running")
	return cmd
}

func seedWorld(w *world, seedEvents int) error {
	for i := 0; i < 3; i++ {
		if _, err := w.spawnInit(i); err != nil {
			return err
		}
		cells := w.cfg.Lattice.Width * w.cfg.Lattice.Height * w.cfg.Lattice.Depth
		for n := 0; n < seedEvents; n++ {
			dst := uint64(n % cells)
			w.instances[i].Enqueue(events.Event{Timestamp: uint64(n), Dst: dst, Src: dst, Payload: 1})
		}
	}
	return nil
}

func totalEventsProcessed(w *world) uint64 {
	var total uint64
	for _, r := range w.instances {
		total += r.TotalEventsProcessed
	}
	return total
}

func benchSequential(cfg *config.Config, cycles, seedEvents int) (time.Duration, uint64, error) {
	w, err := newWorld(cfg, log)
	if err != nil {
		return 0, 0, err
	}
	defer w.close()
	if err := seedWorld(w, seedEvents); err != nil {
		return 0, 0, err
	}

	eng := braid.NewSequential(w.coord, w.instances[0], w.instances[1], w.instances[2], w.recon)
	eng.Transport = w.transport
	start := time.Now()
	for c := 0; c < cycles; c++ {
		for t := uint64(0); t < cfg.Braid.TicksPerExchange; t++ {
			eng.Step()
		}
	}
	return time.Since(start), totalEventsProcessed(w), nil
}

func benchParallel(cfg *config.Config, cycles, seedEvents int) (time.Duration, uint64, error) {
	w, err := newWorld(cfg, log)
	if err != nil {
		return 0, 0, err
	}
	defer w.close()
	if err := seedWorld(w, seedEvents); err != nil {
		return 0, 0, err
	}

	eng := braid.NewParallel(w.coord, w.instances[0], w.instances[1], w.instances[2], w.recon, int(cfg.Braid.TicksPerExchange))
	eng.Transport = w.transport
	start := time.Now()
	if err := eng.Run(context.Background(), cycles); err != nil {
		return 0, 0, err
	}
	return time.Since(start), totalEventsProcessed(w), nil
}
