package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/harrisonrobin/reverify/pkg/config"
	"github.com/harrisonrobin/reverify/pkg/logutils"
)

var version = "dev"

// flags holds the global options and the config loaded from them.
type flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string

	Source   string
	Endpoint string
	Sheet    string
	User     string
	Role     string

	Config *config.Config
}

func defaultConfigPath() string {
	path, err := config.GetConfigPath()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return path
}

func main() {
	var (
		logCloser func()
		f         = &flags{}
	)

	app := &cli.Command{
		Name:      "reverify",
		Usage:     "Review and re-verify delegated tasks from a spreadsheet",
		UsageText: "reverify [global options] command [command options]",
		Version:   version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("REVERIFY_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to stderr)",
				Sources:     cli.EnvVars("REVERIFY_LOG_FILE"),
				Destination: &f.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("REVERIFY_CONFIG"),
				Value:       defaultConfigPath(),
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "source",
				Usage:       "row source: appsscript or sheets (overrides config)",
				Sources:     cli.EnvVars("REVERIFY_SOURCE"),
				Destination: &f.Source,
			},
			&cli.StringFlag{
				Name:        "endpoint",
				Usage:       "Apps Script web app URL (overrides config)",
				Sources:     cli.EnvVars("REVERIFY_ENDPOINT"),
				Destination: &f.Endpoint,
			},
			&cli.StringFlag{
				Name:        "sheet",
				Usage:       "sheet tab name (overrides config)",
				Sources:     cli.EnvVars("REVERIFY_SHEET"),
				Destination: &f.Sheet,
			},
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "reviewer name, matched against the assignee column (overrides config)",
				Sources:     cli.EnvVars("REVERIFY_USER"),
				Destination: &f.User,
			},
			&cli.StringFlag{
				Name:        "role",
				Usage:       "reviewer role; admin sees every assignee (overrides config)",
				Sources:     cli.EnvVars("REVERIFY_ROLE"),
				Destination: &f.Role,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutils.New(f.LogLevel, f.LogFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(f.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			f.applyOverrides(cfg)
			f.Config = cfg
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app.Commands = []*cli.Command{
		serveCmd(f),
		listCmd(f),
		submitCmd(f),
		authCmd(f),
		setSheetCmd(f),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (f *flags) applyOverrides(cfg *config.Config) {
	if f.Source != "" {
		cfg.Source = f.Source
	}
	if f.Endpoint != "" {
		cfg.Endpoint = f.Endpoint
	}
	if f.Sheet != "" {
		cfg.Sheet = f.Sheet
	}
	if f.User != "" {
		cfg.User.Name = f.User
	}
	if f.Role != "" {
		cfg.User.Role = f.Role
	}
}
