package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
	"github.com/portfolio-chat/portfolio-chat/engine/ingest"
	"github.com/portfolio-chat/portfolio-chat/pkg/bootstrap"
	"github.com/portfolio-chat/portfolio-chat/pkg/config"
	"github.com/portfolio-chat/portfolio-chat/pkg/natsutil"
)

// defaultQuestions are asked by "ask" when none are given.
var defaultQuestions = []string{
	"What programming languages do you know?",
	"Tell me about your work experience",
	"What is your educational background?",
	"What projects have you worked on?",
	"What blog articles have you written?",
}

func loadConfig(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if f := cmd.String("log-format"); f != "" {
		cfg.LogFormat = f
	}
	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)
	return cfg, log, nil
}

func setup(ctx context.Context, cmd *cli.Command) (*bootstrap.Runtime, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg, log)
}

// connectNATS returns nil when NATS_URL is unset.
func connectNATS(rt *bootstrap.Runtime, name string) (*nats.Conn, error) {
	if rt.Config.NATSURL == "" {
		return nil, nil
	}
	return natsutil.Connect(rt.Config.NATSURL, name, rt.Log)
}

// announce publishes the run's event when NATS is configured. Failures only
// log.
func announce(ctx context.Context, rt *bootstrap.Runtime, sum ingest.Summary, runErr error) {
	nc, err := connectNATS(rt, "portfolio-ingest")
	if err != nil {
		rt.Log.Warn("nats unavailable, event not published", "err", err)
		return
	}
	if nc == nil {
		return
	}
	defer nc.Close()
	if err := ingest.PublishEvent(ctx, nc, rt.Config.NATSEventsSubject, sum, runErr); err != nil {
		rt.Log.Warn("publish ingest event failed", "err", err)
		return
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		rt.Log.Warn("flush ingest event failed", "err", err)
	}
}

func ingestAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	p, err := rt.Pipeline()
	if err != nil {
		return err
	}

	sum, runErr := p.Ingest(ctx, cmd.Bool("recreate"))
	printSummary(os.Stdout, sum, runErr)
	announce(ctx, rt, sum, runErr)
	if errors.Is(runErr, domain.ErrNoDocuments) {
		return cli.Exit("no documents were loaded; check the source configuration", 1)
	}
	return runErr
}

func updateAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	p, err := rt.Pipeline()
	if err != nil {
		return err
	}

	sum, runErr := p.UpdateDynamic(ctx)
	printSummary(os.Stdout, sum, runErr)
	announce(ctx, rt, sum, runErr)
	if runErr != nil {
		return cli.Exit(fmt.Sprintf("dynamic update failed: %v", runErr), 1)
	}
	return nil
}

func statsAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	st, err := rt.Store.Stats(ctx)
	if err != nil {
		return err
	}
	rt.Metrics.CollectionSize(st.Collection, st.Points)
	b, err := collectBreakdown(ctx, rt.Store, int(cmd.Int("samples")))
	if err != nil {
		return err
	}
	printStats(os.Stdout, st, b)
	return nil
}

func askAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	ans, err := rt.Answerer()
	if err != nil {
		return err
	}

	questions := cmd.Args().Slice()
	if len(questions) == 0 {
		questions = defaultQuestions
	}
	failed := 0
	for i, q := range questions {
		res := ans.Query(ctx, q)
		fmt.Printf("\nQuery %d: %s\n%s\n", i+1, q, strings.Repeat("-", 60))
		fmt.Println(res.Response)
		fmt.Printf("(%d sources, success=%t)\n", len(res.Sources), res.Success)
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d questions failed", failed, len(questions)), 1)
	}
	return nil
}

func watchAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	p, err := rt.Pipeline()
	if err != nil {
		return err
	}
	nc, err := connectNATS(rt, "portfolio-watch")
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Drain()
	}

	rt.Metrics.Registry().ServeAsync(ctx, rt.Config.MetricsPort, rt.Log)

	w := &ingest.Watcher{
		Runner:         p,
		Conn:           nc,
		RefreshSubject: rt.Config.NATSRefreshSubject,
		EventsSubject:  rt.Config.NATSEventsSubject,
		Interval:       cmd.Duration("interval"),
		RunOnStart:     cmd.Bool("run-on-start"),
		Logger:         rt.Log,
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func triggerAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.NATSURL == "" {
		return cli.Exit("NATS_URL is not set", 1)
	}
	mode := ingest.Mode(cmd.String("mode"))
	if mode != ingest.ModeDynamic && mode != ingest.ModeFull {
		return cli.Exit(fmt.Sprintf("unknown mode %q", mode), 1)
	}

	nc, err := natsutil.Connect(cfg.NATSURL, "portfolio-trigger", log)
	if err != nil {
		return err
	}
	defer nc.Close()

	rctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()
	host, _ := os.Hostname()
	ev, err := natsutil.Request[ingest.RefreshRequest, ingest.Event](rctx, nc, cfg.NATSRefreshSubject, ingest.RefreshRequest{
		Mode:        mode,
		Recreate:    cmd.Bool("recreate"),
		RequestedBy: "cli@" + host,
	})
	if err != nil {
		return fmt.Errorf("trigger refresh: %w", err)
	}
	printEvent(os.Stdout, ev)
	if !ev.Success {
		return cli.Exit("refresh failed: "+ev.Error, 1)
	}
	return nil
}
