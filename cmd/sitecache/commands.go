package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/sitecache/pkg/cache"
	"github.com/Sternrassler/sitecache/pkg/metrics"
	"github.com/Sternrassler/sitecache/pkg/session"
	"github.com/Sternrassler/sitecache/pkg/store"
	"github.com/spf13/cobra"
)

func pingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connects to the store and sends a PING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			if err := a.layer.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PONG from %s in %s\n", a.layer.Store.Addr(), time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
}

func statsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Counts keys per namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), a.layer.Invalidator.Statistics(cmd.Context()))
		},
	}
}

func keysCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [pattern]",
		Short: "Lists keys matching a pattern (default: all request cache keys)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := cache.APIPrefix + ":*"
			if len(args) == 1 {
				pattern = args[0]
			}
			keys := a.layer.KV.Keys(cmd.Context(), pattern)
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

func invalidateCommand(a *app) *cobra.Command {
	var (
		all  bool
		keys []string
	)

	cmd := &cobra.Command{
		Use:   "invalidate [group...]",
		Short: "Deletes request cache entries by group, exact key or all at once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 && len(keys) == 0 {
				return errors.New("nothing to invalidate: name a group, --key or --all")
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			inv := a.layer.Invalidator

			if all {
				fmt.Fprintf(out, "all: %d keys deleted\n", inv.InvalidateAllAPICaches(ctx))
				return nil
			}
			for _, name := range args {
				n, err := inv.InvalidateByName(ctx, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d keys deleted\n", name, n)
			}
			for _, key := range keys {
				fmt.Fprintf(out, "%s: deleted=%t\n", key, inv.InvalidateSpecific(ctx, key))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every request cache key")
	cmd.Flags().StringSliceVar(&keys, "key", nil, "Exact full key to delete (repeatable)")
	return cmd
}

func rateLimitCommand(a *app) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Rate limit window commands",
	}
	cmd.PersistentFlags().StringVar(&prefix, "prefix", "", "Window key prefix (default: configured policy prefix)")

	cmd.AddCommand(&cobra.Command{
		Use:   "status [identifier...]",
		Short: "Shows the current window without counting a request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := a.cfg.RateLimit.Default
			if prefix != "" {
				policy.Prefix = prefix
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "IDENTIFIER\tALLOWED\tREMAINING\tLIMIT\tRESET")
			for _, id := range args {
				r := a.layer.Limiter.Status(cmd.Context(), id, policy)
				remaining := "unknown"
				if !r.Unknown() {
					remaining = fmt.Sprint(r.Remaining)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%s\n", id, r.Allowed, remaining, r.Limit, r.ResetTime.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset [identifier...]",
		Short: "Deletes rate limit windows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := a.layer.Limiter.BatchReset(cmd.Context(), args, prefix)
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d windows reset\n", n, len(args))
			return nil
		},
	})
	return cmd
}

func sessionsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session cache commands",
	}

	var typeFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "Lists session IDs (scans the keyspace)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var t session.Type
			if typeFilter != "" {
				parsed, err := session.ParseType(typeFilter)
				if err != nil {
					return err
				}
				t = parsed
			}
			ids := a.layer.Sessions.IDs(cmd.Context(), t)
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	list.Flags().StringVar(&typeFilter, "type", "", "Only sessions of this type (form, survey)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [type] [id]",
		Short: "Prints a session record without extending it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := session.ParseType(args[0])
			if err != nil {
				return err
			}
			rec, ok := store.Get[session.Record](cmd.Context(), a.layer.KV, session.Key(t, args[1]))
			if !ok {
				return fmt.Errorf("session %s:%s not found", t, args[1])
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [type] [id]",
		Short: "Deletes a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := session.ParseType(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted=%t\n", a.layer.Sessions.Delete(cmd.Context(), args[1], t))
			return nil
		},
	})
	return cmd
}

func metricsCommand(a *app) *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serves Prometheus metrics, refreshing key statistics periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", listen, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveMetrics(ctx, a, ln, interval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":9090", "Address to serve /metrics on")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Key statistics refresh interval (0 disables)")
	return cmd
}

// serveMetrics runs the metrics endpoint on ln until ctx ends.
func serveMetrics(ctx context.Context, a *app, ln net.Listener, interval time.Duration, out io.Writer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.layer.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if interval > 0 {
		go refreshStatistics(ctx, a, interval)
	}

	fmt.Fprintf(out, "Serving metrics on %s\n", ln.Addr())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func refreshStatistics(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.layer.Invalidator.Statistics(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.layer.Invalidator.Statistics(ctx)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
