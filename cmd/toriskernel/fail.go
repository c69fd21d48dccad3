package main

import (
	"fmt"

	"github.com/justanotherdot-student/toriskernel/internal/braid"
	"github.com/justanotherdot-student/toriskernel/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newFailCmd warms the three instances up for a few cycles, then stops
// ticking (and therefore stops advancing the heartbeat of) one chosen
// instance while the other two keep running, so the coordinator's
// heartbeat-timeout/reconstruction path (spec.md 4.H) actually fires.
func newFailCmd() *cobra.Command {
	var instance int
	var warmupCycles, failCycles int

	cmd := &cobra.Command{
		Use:   "fail",
		Short: "Simulate one instance going silent and watch reconstruction recover it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instance < 0 || instance > 2 {
				return fmt.Errorf("--instance must be 0, 1, or 2")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			w, err := newWorld(cfg, log)
			if err != nil {
				return err
			}
			defer w.close()
			if err := seedWorld(w, 32); err != nil {
				return err
			}

			eng := braid.NewSequential(w.coord, w.instances[0], w.instances[1], w.instances[2], w.recon)
			eng.Transport = w.transport

			runCycles := func(n int, skip int) {
				for c := 0; c < n; c++ {
					for t := uint64(0); t < cfg.Braid.TicksPerExchange; t++ {
						for i, r := range w.instances {
							if i == skip {
								continue
							}
							if r.Tick() {
								w.coord.Stats.TotalTicks[i]++
							}
						}
					}
					eng.BraidExchange()
				}
			}

			runCycles(warmupCycles, -1)
			log.WithFields(logrus.Fields{"run_id": w.runID, "instance": instance}).
				Info("instance now silent")
			runCycles(failCycles, instance)

			log.WithFields(logrus.Fields{
				"run_id":            w.runID,
				"failures_detected": w.coord.Stats.TotalFailuresDetected,
				"reconstructions":   w.coord.Stats.TotalReconstructions,
				"instance_state":    w.instances[instance].ActiveProcesses(),
			}).Info("fail scenario complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&instance, "instance", 2, "instance to silence (0, 1, or 2)")
	cmd.Flags().IntVar(&warmupCycles, "warmup-cycles", 3, "braid cycles to run before silencing the instance")
	cmd.Flags().IntVar(&failCycles, "fail-cycles", 6, "braid cycles to run while the instance stays silent")
	return cmd
}
