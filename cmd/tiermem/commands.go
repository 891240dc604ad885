package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tiermem"
	"github.com/zero-day-ai/tiermem/archive"
	"github.com/zero-day-ai/tiermem/backing"
	"github.com/zero-day-ai/tiermem/consolidate"
	"github.com/zero-day-ai/tiermem/event"
	"github.com/zero-day-ai/tiermem/memory"
)

func (a *app) storeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "store <user-text> [agent-text]",
		Short: "Store an interaction",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := ""
			if len(args) == 2 {
				agent = args[1]
			}
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				in, err := e.StoreInteraction(ctx, args[0], agent, force)
				if in != nil {
					if perr := a.print(in); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Promote to episodic memory regardless of importance")
	return cmd
}

func (a *app) contextCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show recent interactions from working memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				got, err := e.GetWorkingContext(ctx, limit)
				if err != nil {
					return err
				}
				return a.print(got)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", tiermem.DefaultContextLimit, "Maximum number of interactions")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var (
		limit         int
		minSimilarity float64
		tags          []string
		since, until  string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search episodic memory by similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []tiermem.SearchOption
			if cmd.Flags().Changed("limit") {
				opts = append(opts, tiermem.WithLimit(limit))
			}
			if cmd.Flags().Changed("min-similarity") {
				opts = append(opts, tiermem.WithMinSimilarity(minSimilarity))
			}
			if len(tags) > 0 {
				opts = append(opts, tiermem.WithTags(tags...))
			}
			r, err := timeRange(since, until)
			if err != nil {
				return err
			}
			if r != nil {
				opts = append(opts, tiermem.WithTimeRange(r))
			}

			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				results, err := e.SearchMemories(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				return a.print(results)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", tiermem.DefaultSearchLimit, "Maximum number of results")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", tiermem.DefaultMinSimilarity, "Minimum cosine similarity")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Only memories carrying one of these tags")
	cmd.Flags().StringVar(&since, "since", "", "Only memories created after this time (RFC 3339 or duration ago)")
	cmd.Flags().StringVar(&until, "until", "", "Only memories created before this time (RFC 3339 or duration ago)")
	return cmd
}

func (a *app) factCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fact",
		Short: "Manage core facts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key-path]",
		Short: "Print a fact, a subtree, or the whole tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				v, found, err := e.GetCoreFact(ctx, path)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no fact at %q", path)
				}
				return a.print(v)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key-path> <json-value>",
		Short: "Set a fact; values that are not valid JSON are stored as strings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseValue(args[1])
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				return e.SetCoreFact(ctx, args[0], value)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key-path>",
		Short: "Delete a fact subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				deleted, err := e.DeleteCoreFact(ctx, args[0])
				if err != nil {
					return err
				}
				return a.print(map[string]bool{"deleted": deleted})
			})
		},
	})

	return cmd
}

func (a *app) consolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Summarise recent episodic memories by tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				s, err := e.Consolidate(ctx)
				if err != nil {
					return err
				}
				return a.print(s)
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show tier sizes and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				s, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				return a.print(s)
			})
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var sqlitePath, since, until string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export episodic memories as JSON lines or to a SQLite archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := timeRange(since, until)
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				memories, err := e.ExportMemories(ctx, r)
				if err != nil {
					return err
				}
				if sqlitePath == "" {
					return archive.WriteJSONLines(a.out, memories)
				}

				db, err := archive.OpenSQLite(ctx, sqlitePath)
				if err != nil {
					return err
				}
				defer db.Close()

				n, err := db.Write(ctx, memories)
				if err != nil {
					return err
				}
				return a.print(map[string]any{"archived": n, "path": sqlitePath})
			})
		},
	}
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "Write to a SQLite archive at this path instead of stdout")
	cmd.Flags().StringVar(&since, "since", "", "Only memories created after this time (RFC 3339 or duration ago)")
	cmd.Flags().StringVar(&until, "until", "", "Only memories created before this time (RFC 3339 or duration ago)")
	return cmd
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the backing store and embedding provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *tiermem.Engine) error {
				status := e.Health(ctx)
				if err := a.print(status); err != nil {
					return err
				}
				if status.IsUnhealthy() {
					return fmt.Errorf("unhealthy: %s", status.Message)
				}
				return nil
			})
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run scheduled consolidation until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, cfg, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			sched := consolidate.NewScheduler(e.Consolidator(), cfg.Consolidation.GetSchedule(), nil)
			if err := sched.Start(); err != nil {
				return err
			}

			<-ctx.Done()

			shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return sched.Stop(shutdown)
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [topic...]",
		Short: "Print events published to the Redis sink",
		RunE: func(cmd *cobra.Command, topics []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			client, err := backing.NewRedisClient(ctx, backing.RedisOptions{
				URL:         cfg.Redis.GetURL(),
				DialTimeout: cfg.Redis.GetDialTimeout(),
			})
			if err != nil {
				return err
			}
			defer client.Close()

			sink := event.NewRedisSink(client, cfg.Events.GetChannelPrefix())
			events, err := sink.Subscribe(ctx, cfg.Log.NewLogger(os.Stderr), topics...)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.out)
			for env := range events {
				if err := enc.Encode(env); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// parseValue decodes s as JSON, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func timeRange(since, until string) (*memory.TimeRange, error) {
	if since == "" && until == "" {
		return nil, nil
	}
	now := time.Now()
	r := &memory.TimeRange{}
	if since != "" {
		t, err := parseTime(since, now)
		if err != nil {
			return nil, err
		}
		ts := memory.FromTime(t)
		r.Start = &ts
	}
	if until != "" {
		t, err := parseTime(until, now)
		if err != nil {
			return nil, err
		}
		ts := memory.FromTime(t)
		r.End = &ts
	}
	return r, nil
}
