package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NikKowPHP/meetup/internal/pipeline"
	"github.com/NikKowPHP/meetup/internal/report"
	"github.com/NikKowPHP/meetup/internal/seen"
	"github.com/NikKowPHP/meetup/internal/service"
	"github.com/NikKowPHP/meetup/internal/source"
)

var ignoreSwitches bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline pass and print its summary",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().BoolVar(&ignoreSwitches, "ignore-switches", false, "Fetch every configured source regardless of feature switches")
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	seenCache, err := seen.New(a.cfg.SeenCache)
	if err != nil {
		return err
	}
	if rc, ok := seenCache.(*seen.Redis); ok {
		defer rc.Close()
	}

	orch := &pipeline.Orchestrator{
		Sources:  source.Build(a.cfg.Sources, a.cfg.Pipeline, a.logger),
		Gate:     &pipeline.Gate{Store: a.store, Seen: seenCache, Logger: a.logger},
		Reporter: report.Log{Logger: a.logger},
		Logger:   a.logger,
		States:   a.store,
		Options: pipeline.Options{
			SourceTimeout: a.cfg.Pipeline.SourceTimeout,
			Concurrency:   a.cfg.Pipeline.Concurrency,
			Retries:       a.cfg.Pipeline.Retries,
			RetryBackoff:  a.cfg.Pipeline.RetryBackoff,
		},
	}
	if !ignoreSwitches {
		settings := &service.SystemSettingsService{Repo: a.store}
		if err := settings.EnsureDefaultSwitches(ctx); err != nil {
			return err
		}
		orch.Switches = settings
	}

	result, runErr := orch.Run(ctx)
	if err := printJSON(cmd, result.Summary()); err != nil {
		return err
	}
	return runErr
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
