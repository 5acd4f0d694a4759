package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/calder-labs/vecpipe/internal/config"
)

// loadWith runs loadConfig through a throwaway app carrying the same flags as
// the run command and returns the resulting configuration.
func loadWith(t *testing.T, args ...string) *config.Config {
	t.Helper()

	var cfg *config.Config
	app := &cli.App{
		Name: "vecpipe",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{Name: "source-dir"},
			&cli.StringFlag{Name: "collection"},
			&cli.BoolFlag{Name: "force"},
			&cli.BoolFlag{Name: "dry-run"},
			&cli.StringFlag{Name: "job-id"},
		},
		Action: func(c *cli.Context) error {
			loaded, err := loadConfig(c)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	require.NoError(t, app.Run(append([]string{"vecpipe"}, args...)))
	require.NotNil(t, cfg)
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadWith(t)

	assert.Equal(t, "*.md", cfg.Source.Pattern)
	assert.Equal(t, "default", cfg.Index.Collection)
	assert.Equal(t, config.ModeAuto, cfg.Run.Mode)
	assert.False(t, cfg.Run.DryRun)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Run("source-dir", func(t *testing.T) {
		cfg := loadWith(t, "--source-dir", "/srv/corpus")
		assert.Equal(t, "/srv/corpus", cfg.Source.Dir)
	})

	t.Run("collection", func(t *testing.T) {
		cfg := loadWith(t, "--collection", "kb")
		assert.Equal(t, "kb", cfg.Index.Collection)
	})

	t.Run("force selects a full rebuild", func(t *testing.T) {
		cfg := loadWith(t, "--force")
		assert.Equal(t, config.ModeFull, cfg.Run.Mode)
	})

	t.Run("dry-run", func(t *testing.T) {
		cfg := loadWith(t, "--dry-run")
		assert.True(t, cfg.Run.DryRun)
	})

	t.Run("job-id", func(t *testing.T) {
		cfg := loadWith(t, "--job-id", "nightly-7")
		assert.Equal(t, "nightly-7", cfg.Run.JobID)
	})
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecpipe.toml")
	data := `hash_algorithm = "sha256"

[source]
dir = "/srv/corpus"
pattern = "*.markdown"

[index]
collection = "kb"

[run]
mode = "incremental"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	t.Run("file values replace defaults", func(t *testing.T) {
		cfg := loadWith(t, "--config", path)
		assert.Equal(t, "/srv/corpus", cfg.Source.Dir)
		assert.Equal(t, "*.markdown", cfg.Source.Pattern)
		assert.Equal(t, "kb", cfg.Index.Collection)
		assert.Equal(t, config.ModeIncremental, cfg.Run.Mode)
	})

	t.Run("flags replace file values", func(t *testing.T) {
		cfg := loadWith(t, "--config", path, "--collection", "prod")
		assert.Equal(t, "prod", cfg.Index.Collection)
		assert.Equal(t, "/srv/corpus", cfg.Source.Dir)
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	app := &cli.App{
		Name:  "vecpipe",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			_, err := loadConfig(c)
			return err
		},
	}

	err := app.Run([]string{"vecpipe", "--config", filepath.Join(t.TempDir(), "absent.toml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestQueryCommandRequiresText(t *testing.T) {
	app := &cli.App{
		Name: "vecpipe",
		Commands: []*cli.Command{
			{
				Name:   "query",
				Action: queryCommand,
				Flags:  []cli.Flag{configFlag()},
			},
		},
	}

	err := app.Run([]string{"vecpipe", "query"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query text is required")
}

func TestSetupLogger(t *testing.T) {
	newApp := func() *cli.App {
		return &cli.App{
			Name: "vecpipe",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "log-level", Value: "info"},
			},
			Before: setupLogger,
			Action: func(c *cli.Context) error { return nil },
		}
	}

	t.Run("accepts every documented level", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			require.NoError(t, newApp().Run([]string{"vecpipe", "--log-level", level}))
		}
	})

	t.Run("levels are case insensitive", func(t *testing.T) {
		require.NoError(t, newApp().Run([]string{"vecpipe", "--log-level", "WARN"}))
	})

	t.Run("rejects unknown levels", func(t *testing.T) {
		err := newApp().Run([]string{"vecpipe", "--log-level", "verbose"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}
