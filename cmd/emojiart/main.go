// Command emojiart edits emoji-art snapshot files from the shell.
//
// Every editing command reads a snapshot, applies one change and writes the
// result back to the same file:
//
//	emojiart new art.json
//	emojiart add art.json 😀 --x 10 --y -4 --size 40
//	emojiart background url art.json https://example.com/sky.png
//	emojiart fetch art.json
//	emojiart show art.json
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := buildRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

// buildRootCmd is separate from main so tests can drive the command tree.
func buildRootCmd() *cobra.Command {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:          "emojiart",
		Short:        "Edit emoji-art snapshot files",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "warn", "Logging level: debug, info, warn, error")

	rootCmd.AddCommand(
		buildNewCmd(),
		buildShowCmd(),
		buildAddCmd(),
		buildRemoveCmd(),
		buildMoveCmd(),
		buildScaleCmd(),
		buildBackgroundCmd(),
		buildFetchCmd(),
		buildTokenCmd(),
	)
	return rootCmd
}
