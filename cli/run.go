package cli

// This file contains the run command: it discovers the suites, expands
// their tests into variants and hands them to the runner.

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/perfgo/testrunner/history"
	"github.com/perfgo/testrunner/metrics"
	"github.com/perfgo/testrunner/model"
	"github.com/perfgo/testrunner/perfdata"
	"github.com/perfgo/testrunner/pool"
	"github.com/perfgo/testrunner/progress"
	"github.com/perfgo/testrunner/runner"
	"github.com/perfgo/testrunner/testsuite"
	"github.com/perfgo/testrunner/variants"
	"github.com/urfave/cli/v2"
)

const defaultVariants = "default,stress,turbofan"

// exitCodeNoAllocations is returned when a predictable run never printed
// allocation traces.
const exitCodeNoAllocations = 3

// predictableFlags are passed to every test in predictable mode.
var predictableFlags = []string{"--predictable", "--verify-predictable"}

type runOptions struct {
	testRoot string
	// args select suites and tests, e.g. "mjsunit/regress/*"
	args     []string
	variants []string

	suite        testsuite.Options
	slowMode     testsuite.Mode
	passFailMode testsuite.Mode
	warnUnused   bool

	jobs        int
	heartbeat   time.Duration
	progress    string
	metricsFile string

	outDir string
	arch   string
	mode   string

	runner runner.Config
}

func runOptionsFrom(ctx *cli.Context) (*runOptions, error) {
	opts := &runOptions{
		testRoot: ctx.String("test-root"),
		args:     ctx.Args().Slice(),
		suite: testsuite.Options{
			ShellDir:   ctx.String("shell-dir"),
			ExtraFlags: ctx.StringSlice("extra-flags"),
			Timeout:    ctx.Duration("timeout"),
		},
		warnUnused:  ctx.Bool("warn-unused"),
		jobs:        ctx.Int("jobs"),
		heartbeat:   ctx.Duration("heartbeat"),
		progress:    ctx.String("progress"),
		metricsFile: ctx.String("metrics-file"),
		outDir:      ctx.String("outdir"),
		arch:        ctx.String("arch"),
		mode:        ctx.String("mode"),
		runner: runner.Config{
			RerunFailuresCount: ctx.Int("rerun-failures-count"),
			RerunFailuresMax:   ctx.Int("rerun-failures-max"),
			Timeout:            ctx.Duration("timeout"),
			Predictable:        ctx.Bool("predictable"),
			NoSorting:          ctx.Bool("no-sorting"),
		},
	}

	var err error
	if opts.slowMode, err = testsuite.ParseMode(ctx.String("slow-tests")); err != nil {
		return nil, fmt.Errorf("invalid --slow-tests: %w", err)
	}
	if opts.passFailMode, err = testsuite.ParseMode(ctx.String("pass-fail-tests")); err != nil {
		return nil, fmt.Errorf("invalid --pass-fail-tests: %w", err)
	}
	if opts.variants, err = parseVariants(ctx.String("variants")); err != nil {
		return nil, err
	}

	if opts.runner.Predictable {
		opts.variants = []string{variants.Default}
		opts.suite.ExtraFlags = append(opts.suite.ExtraFlags, predictableFlags...)
	}
	return opts, nil
}

func parseVariants(s string) ([]string, error) {
	if strings.TrimSpace(s) == "all" {
		return variants.All.Sorted(), nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !variants.Known(v) {
			return nil, fmt.Errorf("unknown variant %q", v)
		}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no variants selected")
	}
	return out, nil
}

// selectedSuites returns the suite names named by the arguments, nil when
// all suites are selected.
func selectedSuites(args []string) map[string]bool {
	if len(args) == 0 {
		return nil
	}
	selected := make(map[string]bool)
	for _, arg := range args {
		selected[strings.SplitN(arg, "/", 2)[0]] = true
	}
	return selected
}

func (a *App) loadSuites(opts *runOptions) ([]*testsuite.Suite, error) {
	dirs, err := os.ReadDir(opts.testRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read test root: %w", err)
	}

	selected := selectedSuites(opts.args)
	var suites []*testsuite.Suite
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		root := filepath.Join(opts.testRoot, d.Name())
		if _, err := os.Stat(filepath.Join(root, testsuite.ConfigFile)); err != nil {
			continue
		}

		s, err := testsuite.Load(root, opts.suite)
		if err != nil {
			return nil, fmt.Errorf("failed to load suite %s: %w", d.Name(), err)
		}
		if selected != nil && !selected[s.Name] {
			continue
		}

		if len(opts.args) > 0 {
			s.FilterTestCasesByArgs(opts.args)
		}
		// First filter with the variant independent rules, then again after
		// the expansion with the variant specific ones.
		if opts.warnUnused {
			a.warnUnusedRules(s, false)
		}
		s.FilterTestCasesByStatus(opts.slowMode, opts.passFailMode)
		s.ExpandVariants(s.CreateVariantGenerator(opts.variants))
		if opts.warnUnused {
			a.warnUnusedRules(s, true)
		}
		s.FilterTestCasesByStatus(opts.slowMode, opts.passFailMode)

		a.logger.Debug().Str("suite", s.Name).Int("tests", len(s.Tests)).Msg("Loaded suite")
		suites = append(suites, s)
	}

	for name := range selected {
		if !slices.ContainsFunc(suites, func(s *testsuite.Suite) bool { return s.Name == name }) {
			a.logger.Warn().Str("suite", name).Msg("Unknown suite")
		}
	}
	return suites, nil
}

func (a *App) warnUnusedRules(s *testsuite.Suite, checkVariantRules bool) {
	for _, rule := range s.WarnUnusedRules(checkVariantRules) {
		a.logger.Warn().Str("suite", s.Name).Msg(rule.String())
	}
}

func (a *App) run(ctx *cli.Context) error {
	startTime := time.Now()

	opts, err := runOptionsFrom(ctx)
	if err != nil {
		return err
	}

	h := &model.History{
		ID:        history.NewID(),
		Timestamp: startTime,
		Args:      os.Args,
		Target: &model.Target{
			OS:   runtime.GOOS,
			Arch: opts.arch,
			Mode: opts.mode,
		},
	}
	if cwd, err := os.Getwd(); err == nil {
		h.WorkDir = cwd
	}
	// Capture git info (non-fatal if it fails)
	if commit, branch, err := a.getGitInfo(opts.testRoot); err == nil {
		h.Git = &model.Git{
			Commit: commit,
			Branch: branch,
		}
	}

	suites, err := a.loadSuites(opts)
	if err != nil {
		return err
	}

	store, err := perfdata.Open(opts.outDir, opts.arch, opts.mode, a.logger)
	if err != nil {
		return err
	}

	indicator, err := progress.New(opts.progress, ctx.App.Writer, a.logger)
	if err != nil {
		return err
	}
	if opts.metricsFile != "" {
		indicator = progress.Multi{indicator, metrics.New(opts.metricsFile, a.logger)}
	}

	p := pool.New(opts.jobs, a.logger, pool.WithHeartbeat(opts.heartbeat))
	r := runner.New(suites, indicator, store, p, opts.runner, a.logger)

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info().
		Int("tests", len(r.Tests())).
		Int("jobs", opts.jobs).
		Strs("variants", opts.variants).
		Bool("predictable", opts.runner.Predictable).
		Msg("Running tests")

	verdict, runErr := r.Run(runCtx)

	c := r.Counters()
	h.Duration = time.Since(startTime)
	h.ExitCode = exitCode(verdict, runErr)
	h.Summary = &model.RunSummary{
		Variants:    opts.variants,
		Predictable: opts.runner.Predictable,
		Total:       c.Total,
		Succeeded:   c.Succeeded,
		Crashed:     c.Crashed,
		Remaining:   c.Remaining,
		Reran:       c.RerunTests,
	}
	for _, s := range suites {
		h.Summary.Suites = append(h.Summary.Suites, s.Name)
	}
	for _, tc := range c.Failed {
		h.Summary.Failed = append(h.Summary.Failed, tc.Label())
	}

	// Record the history (non-fatal if it fails)
	if _, err := history.Record(a.logger, history.Root(opts.outDir), h); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to record history")
	}

	switch {
	case errors.Is(runErr, runner.ErrNoAllocations):
		return cli.Exit(runErr.Error(), exitCodeNoAllocations)
	case runErr != nil:
		return runErr
	case verdict != 0:
		return cli.Exit("", verdict)
	}
	return nil
}

func exitCode(verdict int, err error) int {
	switch {
	case errors.Is(err, runner.ErrNoAllocations):
		return exitCodeNoAllocations
	case err != nil && verdict == 0:
		return 1
	}
	return verdict
}
