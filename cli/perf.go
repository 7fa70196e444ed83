package cli

// This file contains the perf commands operating on the stored test durations.

import (
	"fmt"
	"os"

	"github.com/perfgo/testrunner/perfdata"
	"github.com/urfave/cli/v2"
)

func (a *App) openStore(ctx *cli.Context) (*perfdata.Store, error) {
	return perfdata.Open(ctx.String("outdir"), ctx.String("arch"), ctx.String("mode"), a.logger)
}

func (a *App) perfProfile(ctx *cli.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	entries := store.Entries()
	if err := store.Close(); err != nil {
		return err
	}

	output := ctx.String("output")
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	defer f.Close()

	if err := perfdata.Profile(entries).Write(f); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}

	a.logger.Info().
		Str("path", output).
		Int("tests", len(entries)).
		Msg("Wrote duration profile")
	fmt.Fprintf(ctx.App.Writer, "View with: go tool pprof -http=: %s\n", output)
	return nil
}

func (a *App) perfClear(ctx *cli.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	a.logger.Info().Str("path", store.Path()).Msg("Deleted perf data")
	return nil
}
