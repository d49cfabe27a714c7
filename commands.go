package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/harrisonrobin/reverify/pkg/auth"
	"github.com/harrisonrobin/reverify/pkg/classify"
	"github.com/harrisonrobin/reverify/pkg/config"
	"github.com/harrisonrobin/reverify/pkg/google"
	"github.com/harrisonrobin/reverify/pkg/metrics"
	"github.com/harrisonrobin/reverify/pkg/model"
	"github.com/harrisonrobin/reverify/pkg/reconcile"
	"github.com/harrisonrobin/reverify/pkg/review"
	"github.com/harrisonrobin/reverify/pkg/server"
)

// backend is a row source that can also record verifications.
type backend interface {
	review.Source
	reconcile.Writer
}

func newBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Source {
	case config.SourceSheets:
		dir, err := config.GetXdgHome()
		if err != nil {
			return nil, fmt.Errorf("could not find configuration directory: %w", err)
		}
		flow := &auth.Flow{Dir: dir, Log: log.Logger}
		client, err := flow.Client(ctx, auth.Scopes)
		if err != nil {
			return nil, fmt.Errorf("failed to get authenticated client for Sheets API: %w", err)
		}
		client.Timeout = cfg.HTTP.Timeout.Std()
		return google.NewSheetsClientWithHTTP(ctx, client, cfg.SpreadsheetID, cfg.Sheet)
	default:
		client := &http.Client{Timeout: cfg.HTTP.Timeout.Std()}
		return google.NewAppsScriptClient(cfg.Endpoint, cfg.Sheet, client), nil
	}
}

// newSession validates the config and builds a review session over the configured source.
func newSession(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*review.Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	be, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New(reg)
	rec := reconcile.New(be, reconcile.Options{
		Policy: reconcile.Policy{
			MaxAttempts:     cfg.Write.MaxAttempts,
			InitialInterval: cfg.Write.InitialInterval.Std(),
			MaxInterval:     cfg.Write.MaxInterval.Std(),
		},
		NoticeTTL: cfg.NoticeTTL.Std(),
		Location:  loc,
		Logger:    log.Logger,
		Metrics:   m,
	})

	return review.New(be, be, review.Options{
		Viewer:     classify.Viewer{Name: cfg.User.Name, Role: cfg.User.Role},
		Location:   loc,
		Logger:     log.Logger,
		Metrics:    m,
		Reconciler: rec,
	}), nil
}

func serveCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the review session over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "listen address (overrides config)",
				Sources: cli.EnvVars("REVERIFY_LISTEN"),
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := f.Config
			if addr := c.String("listen"); addr != "" {
				cfg.Listen = addr
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			svc, err := newSession(ctx, cfg, reg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("initial load failed, serving with empty views")
			}

			return server.New(svc, reg, log.Logger).Run(ctx, cfg.Listen)
		},
	}
}

func listCmd(f *flags) *cli.Command {
	var (
		history    bool
		search     string
		jsonOutput bool
	)
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List pending tasks, or history with --history",
		UsageText: "reverify list [--history] [--search text] [--json]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "history", Usage: "list verified records instead of pending tasks", Destination: &history},
			&cli.StringFlag{Name: "search", Aliases: []string{"q"}, Usage: "case-insensitive filter over all fields", Destination: &search},
			&cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &jsonOutput},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			svc, err := newSession(ctx, f.Config, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Refresh(ctx); err != nil {
				return err
			}

			tasks := svc.Pending(search)
			if history {
				tasks = svc.History(search)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(os.Stderr, "No tasks found")
				return nil
			}
			printTasks(tasks, history)
			return nil
		},
	}
}

func printTasks(tasks []model.Task, history bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if history {
		fmt.Fprintln(w, "ID\tTASK\tASSIGNEE\tVERIFIED\tREMARKS")
	} else {
		fmt.Fprintln(w, "ID\tTASK\tASSIGNEE\tPLANNED")
	}
	for _, t := range tasks {
		if history {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.TaskID, t.Get(model.ColAssignee),
				t.Get(model.ColVerificationDate), t.Get(model.ColRemarks))
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.TaskID, t.Get(model.ColAssignee), t.Get(model.ColPlannedDate))
		}
	}
	_ = w.Flush()
}

func submitCmd(f *flags) *cli.Command {
	var (
		all    bool
		remark string
	)
	return &cli.Command{
		Name:      "submit",
		Usage:     "Re-verify pending tasks",
		UsageText: "reverify submit [--remark id=text ...] [--all --text remarks] [id ...]",
		Description: `Selects the given task ids, attaches remarks and submits them. Each selected task
needs a remark: pass --remark id=text per task, or --text to use one remark for all.`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "remark", Aliases: []string{"r"}, Usage: "remark for one task, as id=text"},
			&cli.BoolFlag{Name: "all", Usage: "select every pending task", Destination: &all},
			&cli.StringFlag{Name: "text", Usage: "remark applied to every selected task without one", Destination: &remark},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			remarks, err := parseRemarks(c.StringSlice("remark"))
			if err != nil {
				return err
			}

			svc, err := newSession(ctx, f.Config, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Refresh(ctx); err != nil {
				return err
			}

			ids := c.Args().Slice()
			for id := range remarks {
				ids = append(ids, id)
			}
			if all {
				svc.SelectAll("", true)
			}
			for _, id := range ids {
				if err := svc.Select(id, true); err != nil {
					return fmt.Errorf("select %s: %w", id, err)
				}
			}
			for _, id := range svc.State().Selection() {
				text, ok := remarks[id]
				if !ok {
					text = remark
				}
				if err := svc.SetRemark(id, text); err != nil {
					return err
				}
			}

			sub, err := svc.Submit(ctx)
			if err != nil {
				return cli.Exit(reconcile.UserMessage(err), 1)
			}

			outcome, err := sub.Wait(ctx)
			if err != nil {
				return err
			}
			for _, n := range svc.Notices() {
				fmt.Println(n.Message)
			}
			if !outcome.OK() {
				return cli.Exit(outcome.Err.Error(), 1)
			}
			return nil
		},
	}
}

// parseRemarks reads id=text pairs.
func parseRemarks(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		id, text, ok := strings.Cut(p, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid remark %q, expected id=text", p)
		}
		out[id] = text
	}
	return out, nil
}

func authCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize access to the Sheets API",
		Action: func(ctx context.Context, c *cli.Command) error {
			dir, err := config.GetXdgHome()
			if err != nil {
				return fmt.Errorf("could not find configuration directory: %w", err)
			}
			flow := &auth.Flow{Dir: dir, Log: log.Logger}
			if err := flow.Reset(); err != nil {
				return err
			}
			if _, err := flow.Client(ctx, auth.Scopes); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Printf("Authentication successful! Token saved to %s\n", flow.TokenPath())
			return nil
		},
	}
}

func setSheetCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:      "set-sheet",
		Usage:     "Set the default sheet tab name",
		UsageText: "reverify set-sheet NAME",
		Action: func(ctx context.Context, c *cli.Command) error {
			name := c.Args().First()
			if name == "" {
				return errors.New("sheet name is required")
			}
			cfg, err := config.Load(f.ConfigPath)
			if err != nil {
				return err
			}
			cfg.Sheet = name
			if err := config.Save(f.ConfigPath, cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Printf("Default sheet set to: %s\n", name)
			return nil
		},
	}
}
