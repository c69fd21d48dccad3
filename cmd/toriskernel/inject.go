package main

import (
	"fmt"

	"github.com/justanotherdot-student/toriskernel/internal/config"
	"github.com/justanotherdot-student/toriskernel/internal/events"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newInjectCmd injects one synthetic event directly into a chosen
// instance and ticks it forward, useful for exercising the node
// rule/delay-adaptation path in isolation from the full braid exchange.
func newInjectCmd() *cobra.Command {
	var instance int
	var dst, src uint64
	var payload int64
	var ticks int

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Inject one event into a single instance and tick it forward",
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
			if _, err := w.spawnInit(instance); err != nil {
				return err
			}

			r := w.instances[instance]
			r.Enqueue(events.Event{Timestamp: r.CurrentTime, Dst: dst, Src: src, Payload: payload})

			processed := 0
			for i := 0; i < ticks; i++ {
				if r.Tick() {
					processed++
				} else {
					break
				}
			}

			log.WithFields(logrus.Fields{
				"run_id":    w.runID,
				"instance":  instance,
				"dst":       dst,
				"payload":   payload,
				"processed": processed,
				"current_time": r.CurrentTime,
				"dropped":   r.DroppedEvents,
			}).Info("injection complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&instance, "instance", 0, "instance to inject into (0, 1, or 2)")
	cmd.Flags().Uint64Var(&dst, "dst", 0, "destination node id")
	cmd.Flags().Uint64Var(&src, "src", 0, "source node id")
	cmd.Flags().Int64Var(&payload, "payload", 1, "event payload")
	cmd.Flags().IntVar(&ticks, "ticks", 8, "ticks to run after injection")
	return cmd
}
