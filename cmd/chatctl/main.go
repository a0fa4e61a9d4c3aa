package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	cfgFile string

	// set with -ldflags "-X main.version=..."
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Command-line client for the document chat service",
		Long:          "chatctl manages chats, sends questions and binds uploaded documents as retrieval context.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")

	rootCmd.AddCommand(
		newChatsCmd(),
		newNewCmd(),
		newRenameCmd(),
		newRmCmd(),
		newHistoryCmd(),
		newDocsCmd(),
		newUploadCmd(),
		newAskCmd(),
		newReplCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVersion := "unknown"
			if info, ok := debug.ReadBuildInfo(); ok {
				goVersion = info.GoVersion
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chatctl %s (%s)\n", version, goVersion)
		},
	}
}
