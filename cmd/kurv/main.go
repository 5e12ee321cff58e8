// Command kurv is the process supervisor binary: it dispatches to the
// server subcommand (the long-running control plane + reconciliation
// loop), the service subcommand (the same, registered with the host's
// native service manager), or prints its version.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kurvproject/kurv/pkg/info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kurv",
		Short: "A lightweight single-node process supervisor",
	}

	var logLevel string
	var flags *pflag.FlagSet = root.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	}

	root.AddCommand(newServerCmd())
	root.AddCommand(newServiceCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kurv version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(info.Version)
			return nil
		},
	}
}
