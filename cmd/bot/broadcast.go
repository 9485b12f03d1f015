package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clover2di/tochkavnimanie-bot/internal/app"
	"github.com/clover2di/tochkavnimanie-bot/internal/eventbus"
)

func newBroadcastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Create and send mass notices",
	}
	cmd.AddCommand(newBroadcastNewCmd(), newBroadcastSendCmd(), newBroadcastStatusCmd(), newBroadcastListCmd())
	return cmd
}

func newBroadcastNewCmd() *cobra.Command {
	var text, image string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a draft broadcast",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("--text is required")
			}
			return withTools(cmd, func(t *app.Tools) error {
				var imagePath string
				if image != "" {
					data, err := os.ReadFile(image)
					if err != nil {
						return err
					}
					imagePath, err = t.Images.SaveBroadcastImage(filepath.Ext(image), data)
					if err != nil {
						return err
					}
				}
				b, err := t.Store.CreateBroadcast(cmd.Context(), text, imagePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "broadcast #%d created\n", b.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Message text (Telegram HTML)")
	cmd.Flags().StringVar(&image, "image", "", "Optional image file sent with the text as caption")
	return cmd
}

func newBroadcastSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <id>",
		Short: "Send a broadcast in the foreground and report progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withTools(cmd, func(t *app.Tools) error {
				bus := eventbus.New()
				events, unsub := bus.Subscribe(64)
				defer unsub()

				d, err := t.Dispatcher(bus)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case e, ok := <-events:
							if !ok {
								return
							}
							if p, ok := e.Data.(eventbus.DispatchProgressData); ok {
								fmt.Fprintf(out, "%s: %d sent, %d failed of %d\n", p.Status, p.Sent, p.Failed, p.Total)
							}
						}
					}
				}()

				res, err := d.Run(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "done: %d sent, %d failed of %d\n", res.Sent, res.Failed, res.Total)
				return nil
			})
		},
	}
}

func newBroadcastStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show broadcast progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withTools(cmd, func(t *app.Tools) error {
				b, err := t.Store.GetBroadcast(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "#%d %s: %d sent, %d failed of %d\n", b.ID, b.Status, b.SentCount, b.FailedCount, b.TotalCount)
				return nil
			})
		},
	}
}

func newBroadcastListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent broadcasts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTools(cmd, func(t *app.Tools) error {
				list, err := t.Store.ListBroadcasts(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, b := range list {
					fmt.Fprintf(cmd.OutOrStdout(), "#%d\t%s\t%d/%d\t%s\n", b.ID, b.Status, b.SentCount, b.TotalCount, b.CreatedAt.Format("2006-01-02 15:04"))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of broadcasts")
	return cmd
}
