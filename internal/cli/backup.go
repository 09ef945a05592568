package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nrc-it/staffforms/internal/backup"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBackupCommand(a *app) *cobra.Command {
	var out, dir string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the local data directory as tar.xz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.Local.Dir
			}
			if out == "" {
				out = "staffforms-" + time.Now().Format("20060102-150405") + ".tar.xz"
			}
			f, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			entries, err := backup.Write(f, dir)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(out)
				return fmt.Errorf("backup %s: %w", dir, err)
			}
			a.logger.Info("backup written", zap.String("dir", dir), zap.String("archive", out), zap.Int("files", len(entries)))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d files)\n", out, len(entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "archive path (default staffforms-<timestamp>.tar.xz)")
	cmd.Flags().StringVar(&dir, "dir", "", "directory to archive (default local.dir)")

	cmd.AddCommand(newBackupListCommand(), newBackupRestoreCommand(a))
	return cmd
}

func newBackupListCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "list <archive>",
		Short:       "List the files in a backup archive",
		Annotations: skipConfig,
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := backup.List(f)
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

func newBackupRestoreCommand(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Unpack a backup archive into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.Local.Dir
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := backup.Restore(f, dir)
			if err != nil {
				return fmt.Errorf("restore %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d files into %s\n", len(entries), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "target directory (default local.dir)")
	return cmd
}

func printEntries(w io.Writer, entries []backup.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%10d  %s\n", e.Size, e.Name)
	}
}
