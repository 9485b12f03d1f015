package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clover2di/tochkavnimanie-bot/internal/app"
	"github.com/clover2di/tochkavnimanie-bot/internal/storage"
)

func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Manage competition stages",
	}
	cmd.AddCommand(newStageAddCmd(), newStageListCmd())
	return cmd
}

// parseWhen accepts RFC 3339 or "2006-01-02 15:04" in loc.
// Empty input means no bound.
func parseWhen(raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", raw, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: use RFC 3339 or \"2006-01-02 15:04\"", raw)
	}
	return &t, nil
}

func newStageAddCmd() *cobra.Command {
	var (
		name, description string
		start, deadline   string
		order             int
		inactive          bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			return withTools(cmd, func(t *app.Tools) error {
				startAt, err := parseWhen(start, t.Location)
				if err != nil {
					return err
				}
				deadlineAt, err := parseWhen(deadline, t.Location)
				if err != nil {
					return err
				}
				if startAt != nil && deadlineAt != nil && deadlineAt.Before(*startAt) {
					return fmt.Errorf("deadline is before start")
				}
				st, err := t.Store.CreateStage(cmd.Context(), storage.Stage{
					Name:        strings.TrimSpace(name),
					Description: description,
					IsActive:    !inactive,
					StartAt:     startAt,
					Deadline:    deadlineAt,
					Order:       order,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stage #%d created\n", st.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "Stage name shown on the button")
	f.StringVar(&description, "description", "", "Optional description")
	f.StringVar(&start, "start", "", "Start time (empty: open now)")
	f.StringVar(&deadline, "deadline", "", "Deadline (empty: no deadline)")
	f.IntVar(&order, "order", 0, "Display order")
	f.BoolVar(&inactive, "inactive", false, "Create the stage disabled")
	return cmd
}

func newStageListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTools(cmd, func(t *app.Tools) error {
				stages, err := t.Store.ListStages(cmd.Context())
				if err != nil {
					return err
				}
				now := time.Now()
				for _, st := range stages {
					state := "closed"
					if st.OpenAt(now) {
						state = "open"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "#%d\t%s\t%s\t%s .. %s\n", st.ID, st.Name, state, when(st.StartAt, t.Location), when(st.Deadline, t.Location))
				}
				return nil
			})
		},
	}
}

func when(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}
