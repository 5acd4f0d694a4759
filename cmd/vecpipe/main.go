package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/calder-labs/vecpipe"
	"github.com/calder-labs/vecpipe/internal/config"
	"github.com/calder-labs/vecpipe/internal/health"
	"github.com/calder-labs/vecpipe/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	app := &cli.App{
		Name:   "vecpipe",
		Usage:  "Incremental corpus to vector index synchronization",
		Before: setupLogger,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run one synchronization pass",
				Action: runCommand,
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "source-dir",
						Usage: "Override the configured source directory",
					},
					&cli.StringFlag{
						Name:  "collection",
						Usage: "Override the configured collection name",
					},
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Force a full rebuild regardless of the change set",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Decide and report without mutating the index or ledger",
					},
					&cli.StringFlag{
						Name:  "job-id",
						Usage: "Explicit job id for the report (default: generated)",
					},
				},
			},
			{
				Name:   "health",
				Usage:  "Check index, ledger, backup, and configuration health",
				Action: healthCommand,
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "collection",
						Usage: "Override the configured collection name",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Search the collection to verify indexed content",
				ArgsUsage: "<query text>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "collection",
						Usage: "Override the configured collection name",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results",
						Value:   5,
					},
					&cli.BoolFlag{
						Name:  "content",
						Usage: "Print the matched chunk content",
					},
				},
			},
			{
				Name:   "version",
				Usage:  "Print version and build information",
				Action: versionCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to TOML configuration file",
	}
}

// loadConfig reads the TOML file when given, else starts from defaults, and
// applies command-line overrides on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := c.String("source-dir"); v != "" {
		cfg.Source.Dir = v
	}
	if v := c.String("collection"); v != "" {
		cfg.Index.Collection = v
	}
	if c.Bool("force") {
		cfg.Run.Mode = config.ModeFull
	}
	if c.Bool("dry-run") {
		cfg.Run.DryRun = true
	}
	if v := c.String("job-id"); v != "" {
		cfg.Run.JobID = v
	}
	return cfg, nil
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := vecpipe.Run(ctx, cfg)
	if res != nil {
		fmt.Fprintln(os.Stderr, res.Message)
		if res.ReportPath != "" {
			fmt.Fprintf(os.Stderr, "report: %s\n", res.ReportPath)
		}
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func healthCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	report, err := vecpipe.Health(c.Context, cfg)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health report: %w", err)
	}
	fmt.Println(string(data))

	if report.Overall == health.StatusCritical {
		return fmt.Errorf("health check reported critical status")
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return fmt.Errorf("query text is required")
	}

	results, err := vecpipe.Query(c.Context, cfg, text, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%2d. %.4f  %s", i+1, r.Score, r.SourceID)
		if r.Title != "" {
			fmt.Printf("  (%s)", r.Title)
		}
		fmt.Println()
		if r.CanonicalURL != "" {
			fmt.Printf("    %s\n", r.CanonicalURL)
		}
		if c.Bool("content") {
			for _, line := range strings.Split(strings.TrimSpace(r.Content), "\n") {
				fmt.Printf("    | %s\n", line)
			}
		}
	}
	return nil
}

func versionCommand(*cli.Context) error {
	fmt.Printf("vecpipe %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Build Mode: %s\n", storage.BuildMode)
	fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
	fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
	return nil
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}
