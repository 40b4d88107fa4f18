package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"digestbot/internal/app"
	"digestbot/internal/config"
	"digestbot/internal/newsletter"
	"digestbot/internal/storage"
	"digestbot/pkg/logx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "digestbot",
		Short:         "Telegram channel digest bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newScanCmd(&cfgPath),
		newSubscribersCmd(&cfgPath),
	)
	return root
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the digest service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				a.Stop(context.Background())
				return err
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

			<-ctx.Done()
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			a.Stop(stopCtx)
			return nil
		},
	}
}

func newScanCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one scan-and-deliver cycle for all subscribers, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Stop(context.Background())

			return a.Newsletter.ForceRun(ctx)
		},
	}
}

func newSubscribersCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribers",
		Short: "Inspect and edit the subscriber list",
	}
	cmd.AddCommand(
		newSubscribersListCmd(cfgPath),
		newSubscribersAddCmd(cfgPath),
		newSubscribersRemoveCmd(cfgPath),
		newSubscribersSetHourCmd(cfgPath),
	)
	return cmd
}

func newSubscribersListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subscribers and their delivery hours",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(*cfgPath, func(ctx context.Context, store storage.Store) error {
				recs, err := store.Load(ctx)
				if err != nil {
					return err
				}
				sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
				for _, r := range recs {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%02d:00\n", r.ID, r.Hour)
				}
				return nil
			})
		},
	}
}

func newSubscribersAddCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <chat-id>",
		Short: "Subscribe a chat with the default delivery hour",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			return editSubscribers(*cfgPath, func(recs []storage.Record) ([]storage.Record, error) {
				for _, r := range recs {
					if r.ID == id {
						return nil, fmt.Errorf("chat %d is already subscribed", id)
					}
				}
				return append(recs, storage.Record{ID: id, Hour: newsletter.DefaultHour}), nil
			})
		},
	}
}

func newSubscribersRemoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <chat-id>",
		Short: "Unsubscribe a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			return editSubscribers(*cfgPath, func(recs []storage.Record) ([]storage.Record, error) {
				out := recs[:0]
				found := false
				for _, r := range recs {
					if r.ID == id {
						found = true
						continue
					}
					out = append(out, r)
				}
				if !found {
					return nil, fmt.Errorf("chat %d is not subscribed", id)
				}
				return out, nil
			})
		},
	}
}

func newSubscribersSetHourCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-hour <chat-id> <hour>",
		Short: fmt.Sprintf("Set a subscriber's delivery hour (%d-%d)", newsletter.HourMin, newsletter.HourMax),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			hour, err := strconv.Atoi(args[1])
			if err != nil || hour < newsletter.HourMin || hour > newsletter.HourMax {
				return fmt.Errorf("hour must be an integer between %d and %d", newsletter.HourMin, newsletter.HourMax)
			}
			return editSubscribers(*cfgPath, func(recs []storage.Record) ([]storage.Record, error) {
				for i, r := range recs {
					if r.ID == id {
						recs[i].Hour = hour
						return recs, nil
					}
				}
				return nil, fmt.Errorf("chat %d is not subscribed", id)
			})
		},
	}
}

func buildApp(cfgPath string) (*app.App, error) {
	mgr := config.NewManager(cfgPath)
	if _, err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return app.Build(mgr)
}

// withStore opens the configured store for a one-shot CLI operation.
func withStore(cfgPath string, fn func(ctx context.Context, store storage.Store) error) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	store, err := storage.Open(storage.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
	}, logx.Nop())
	if err != nil {
		return err
	}
	if store == nil {
		return storage.ErrDisabled
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, store)
}

func editSubscribers(cfgPath string, edit func([]storage.Record) ([]storage.Record, error)) error {
	return withStore(cfgPath, func(ctx context.Context, store storage.Store) error {
		recs, err := store.Load(ctx)
		if err != nil {
			return err
		}
		next, err := edit(recs)
		if err != nil {
			return err
		}
		return store.Save(ctx, next)
	})
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return id, nil
}
