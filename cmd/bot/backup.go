package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clover2di/tochkavnimanie-bot/internal/app"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Database snapshots",
	}

	var suffix string
	now := &cobra.Command{
		Use:   "now",
		Short: "Write a snapshot now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTools(cmd, func(t *app.Tools) error {
				path, err := t.Backups.Create(cmd.Context(), suffix)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	now.Flags().StringVar(&suffix, "suffix", "manual", "Suffix appended to the file name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTools(cmd, func(t *app.Tools) error {
				infos, err := t.Backups.List()
				if err != nil {
					return err
				}
				for _, i := range infos {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", i.Filename, i.Size, i.Created.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(now, list)
	return cmd
}
