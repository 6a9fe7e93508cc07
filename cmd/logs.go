package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints the structured log file, optionally following it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			path := cfg.Logger().LogFile
			if path == "" {
				return fmt.Errorf("logger.log_file is not configured")
			}
			return streamLog(ctx, cmd.OutOrStdout(), path, follow)
		},
	}

	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing lines as they are appended")
	return logsCmd
}

// streamLog copies path to w line by line. Without follow it stops at end of
// file; with follow it runs until ctx is cancelled, reopening the file after
// rotation.
func streamLog(ctx context.Context, w io.Writer, path string, follow bool) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", path, err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			// The tailer blocks on unread lines, so keep draining until it exits.
			go func() {
				for range t.Lines {
				}
			}()
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				return fmt.Errorf("reading %s: %w", path, line.Err)
			}
			fmt.Fprintln(w, line.Text)
		}
	}
}
