package main

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func buildNewCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "new [file]",
		Short: "Write an empty document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd, args[0], force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func buildShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Print the background and glyphs of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw snapshot")
	return cmd
}

func buildAddCmd() *cobra.Command {
	var x, y, size int
	cmd := &cobra.Command{
		Use:   "add [file] [emoji]",
		Short: "Place an emoji on the canvas",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, args[0], args[1], x, y, size)
		},
	}
	cmd.Flags().IntVar(&x, "x", 0, "Horizontal offset from the canvas center")
	cmd.Flags().IntVar(&y, "y", 0, "Vertical offset from the canvas center")
	cmd.Flags().IntVar(&size, "size", 40, "Nominal glyph size")
	return cmd
}

func buildRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [file] [glyph-id]",
		Short: "Remove a glyph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return runRemove(cmd, args[0], id)
		},
	}
}

func buildMoveCmd() *cobra.Command {
	var dx, dy int
	cmd := &cobra.Command{
		Use:   "move [file] [glyph-id]",
		Short: "Offset a glyph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return runMove(cmd, args[0], id, dx, dy)
		},
	}
	cmd.Flags().IntVar(&dx, "dx", 0, "Horizontal offset")
	cmd.Flags().IntVar(&dy, "dy", 0, "Vertical offset")
	return cmd
}

func buildScaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scale [file] [glyph-id] [factor]",
		Short: "Multiply the size of a glyph",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			factor, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return err
			}
			return runScale(cmd, args[0], id, factor)
		},
	}
}

// =============================================================================
// Background Commands
// =============================================================================

func buildBackgroundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "background",
		Short: "Set the document background",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "blank [file]",
			Short: "Clear the background",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBackgroundBlank(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "url [file] [locator]",
			Short: "Reference a remote image",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBackgroundURL(cmd, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "file [file] [image]",
			Short: "Embed a local image",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBackgroundFile(cmd, args[0], args[1])
			},
		},
	)
	return cmd
}

func buildFetchCmd() *cobra.Command {
	var opts fetchOptions
	cmd := &cobra.Command{
		Use:   "fetch [file]",
		Short: "Resolve the background once and report the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args[0], opts)
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Fetch timeout")
	cmd.Flags().Int64Var(&opts.maxBytes, "max-bytes", 20<<20, "Largest accepted image")
	cmd.Flags().UintVar(&opts.retries, "retries", 3, "Attempts for transient HTTP failures")
	cmd.Flags().StringVar(&opts.fileRoot, "file-root", "", "Directory that file:// locators resolve below")
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		secret string
		name   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Mint a bearer token for the server API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, secret, args[0], name, ttl)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret (defaults to JWT_SECRET)")
	cmd.Flags().StringVar(&name, "name", "", "Display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
