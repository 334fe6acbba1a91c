package main

import (
	"fmt"
	"os"

	"github.com/danmuck/meshbridge/internal/logging"
	"github.com/spf13/cobra"
)

const defaultStorePath = "meshbridge.db"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "meshbridge",
		Short:         "Bridge a dashboard to an encrypted LoRa mesh through a gateway radio",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.ConfigureRuntime()
		},
	}
	cmd.AddCommand(
		newServeCommand(),
		newChannelsCommand(),
		newDecodeCommand(),
		newSealCommand(),
		newInitCommand(),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "meshbridge: %v\n", err)
		os.Exit(1)
	}
}
