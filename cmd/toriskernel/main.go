package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	log        = logrus.StandardLogger()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "toriskernel",
		Short: "Three-instance toroidal event-driven kernel simulator",
		Long: "toriskernel drives three braided torus instances through ticks, " +
			"projection exchange, constraint resolution, and failure reconstruction.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (defaults are used if omitted)")
	root.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		lvl, _ := cmd.Flags().GetString("log-level")
		parsed, err := logrus.ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", lvl, err)
		}
		log.SetLevel(parsed)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newBenchCmd())
	root.AddCommand(newInjectCmd())
	root.AddCommand(newFailCmd())
	root.AddCommand(newShellCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
