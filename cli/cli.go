package cli

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/perfgo/testrunner/pool"
	"github.com/perfgo/testrunner/progress"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "testrunner"

// envPrefix prefixes the environment variables backing the flags.
const envPrefix = "TESTRUNNER_"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func env(name string) []string {
	return []string{envPrefix + name}
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run test suites on a pool of workers, rerunning flaky failures",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "verbose",
					Usage:   "Enable verbose (debug) logging",
					EnvVars: env("VERBOSE"),
				},
				&cli.StringFlag{
					Name:    "outdir",
					Usage:   "Directory holding the duration store, run history and metrics",
					Value:   "out",
					EnvVars: env("OUTDIR"),
				},
				&cli.StringFlag{
					Name:    "arch",
					Usage:   "Architecture of the binaries under test",
					Value:   runtime.GOARCH,
					EnvVars: env("ARCH"),
				},
				&cli.StringFlag{
					Name:    "mode",
					Usage:   "Build mode of the binaries under test",
					Value:   "release",
					EnvVars: env("MODE"),
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Run tests",
		ArgsUsage: "[suite[/glob]]...",
		Action:    app.run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "test-root",
				Usage:   "Directory containing one sub directory per suite",
				Value:   "test",
				EnvVars: env("TEST_ROOT"),
			},
			&cli.StringFlag{
				Name:    "shell-dir",
				Usage:   "Directory containing the binaries under test",
				EnvVars: env("SHELL_DIR"),
			},
			&cli.StringSliceFlag{
				Name:    "extra-flags",
				Usage:   "Additional flags passed to every test",
				EnvVars: env("EXTRA_FLAGS"),
			},
			&cli.StringFlag{
				Name:    "variants",
				Usage:   "Comma separated variants to run, or \"all\"",
				Value:   defaultVariants,
				EnvVars: env("VARIANTS"),
			},
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Usage:   "Number of parallel test processes",
				Value:   runtime.NumCPU(),
				EnvVars: env("JOBS"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Timeout of a single test attempt",
				Value:   60 * time.Second,
				EnvVars: env("TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "rerun-failures-count",
				Usage:   "Number of times a failing test is rerun",
				EnvVars: env("RERUN_FAILURES_COUNT"),
			},
			&cli.IntFlag{
				Name:    "rerun-failures-max",
				Usage:   "Maximum number of distinct failing tests that are rerun",
				Value:   100,
				EnvVars: env("RERUN_FAILURES_MAX"),
			},
			&cli.BoolFlag{
				Name:    "predictable",
				Usage:   "Compare the allocation traces of three runs of every test",
				EnvVars: env("PREDICTABLE"),
			},
			&cli.BoolFlag{
				Name:    "no-sorting",
				Usage:   "Don't run the longest tests first",
				EnvVars: env("NO_SORTING"),
			},
			&cli.StringFlag{
				Name:    "slow-tests",
				Usage:   "Either \"skip\" or \"run\" the tests marked SLOW only",
				EnvVars: env("SLOW_TESTS"),
			},
			&cli.StringFlag{
				Name:    "pass-fail-tests",
				Usage:   "Either \"skip\" or \"run\" the tests marked PASS and FAIL only",
				EnvVars: env("PASS_FAIL_TESTS"),
			},
			&cli.BoolFlag{
				Name:    "warn-unused",
				Usage:   "Report expectations that don't apply to any test",
				EnvVars: env("WARN_UNUSED"),
			},
			&cli.StringFlag{
				Name:    "progress",
				Usage:   fmt.Sprintf("Progress indicator, one of %v", progress.Names),
				Value:   "mono",
				EnvVars: env("PROGRESS"),
			},
			&cli.StringFlag{
				Name:    "metrics-file",
				Usage:   "Write Prometheus metrics of the run to this file",
				EnvVars: env("METRICS_FILE"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat",
				Usage:   "Interval of progress updates while no test finishes",
				Value:   pool.DefaultHeartbeat,
				EnvVars: env("HEARTBEAT"),
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous test runs",
		Action: app.list,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "variants",
		Usage:  "Show the known variants and their flags",
		Action: app.variants,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:  "perf",
		Usage: "Inspect the stored test durations",
		Subcommands: []*cli.Command{
			{
				Name:   "profile",
				Usage:  "Write the stored durations as pprof profile",
				Action: app.perfProfile,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Profile file to write",
						Value:   "durations.pb.gz",
					},
				},
			},
			{
				Name:   "clear",
				Usage:  "Delete the stored durations",
				Action: app.perfClear,
			},
		},
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
