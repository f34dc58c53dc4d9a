// Command limsync fetches finished lab reports and pushes detection
// records back to the upstream service.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/limsync/limsync/pkg/config"
	"github.com/limsync/limsync/pkg/log"
	"github.com/limsync/limsync/pkg/metrics"
	"github.com/limsync/limsync/pkg/push"
	"github.com/limsync/limsync/pkg/retry"
	"github.com/limsync/limsync/pkg/transfer"
)

func main() {
	app := &cli.App{
		Name:  "limsync",
		Usage: "synchronize lab reports and detection records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to configuration file",
				Value:   "limsync.yaml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			fetchCommand(),
			pushCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "limsync:", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, log.New(c.Bool("verbose")), nil
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "download reports finished within a time window",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Usage: "destination directory (overrides config)",
			},
			&cli.DurationFlag{
				Name:  "window",
				Usage: "look-back window for finished reports",
				Value: 24 * time.Hour,
			},
		},
		Action: runFetch,
	}
}

func runFetch(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dir := cfg.Download.Dir
	if c.String("dir") != "" {
		dir = c.String("dir")
	}
	if dir == "" {
		dir = "."
	}

	client, err := newReportClient(
		cfg.API.QueryURL,
		cfg.API.AppID,
		cfg.API.AppSecret,
		cfg.Download.Retry.Policy(),
		logger,
	)
	if err != nil {
		return err
	}

	ctx := context.Background()
	end := time.Now()
	start := end.Add(-c.Duration("window"))

	reports, err := client.List(ctx, start, end)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}
	logger.Info("reports listed",
		zap.Int("count", len(reports)),
		zap.Time("start", start),
		zap.Time("end", end))
	if len(reports) == 0 {
		return nil
	}

	collector := metrics.NewCollector()
	manager := transfer.NewManager(transfer.ManagerConfig{
		Workers: cfg.Download.Workers,
		// One queue slot per report so no submission is rejected.
		QueueSize: len(reports),
		Logger:    logger,
		Metrics:   collector,
		Executor: transfer.NewExecutor(
			transfer.WithChunkSize(cfg.Download.ChunkSize),
			transfer.WithExecutorLogger(logger),
		),
	})

	handles, skipped := submitReports(ctx, manager, reports, dir,
		cfg.Download.Retry.Policy(), logger)

	// A report that never made it into the pool counts as failed; the
	// command must not exit clean with work silently dropped.
	failed := skipped
	for _, h := range handles {
		result, err := h.Wait(ctx)
		if err != nil || !result.Successful() {
			failed++
		}
	}
	manager.Shutdown()

	logger.Info("fetch finished",
		zap.Int("requested", len(reports)),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Int64("downloaded", collector.Get(metrics.DownloadSuccess)))
	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(reports))
	}
	return nil
}

// submitReports enqueues every report into the manager, one destination
// subdirectory per board. It returns the accepted handles and how many
// reports could not be submitted at all.
func submitReports(ctx context.Context, manager *transfer.Manager, reports []report, dir string, policy retry.Policy, logger *zap.Logger) ([]*transfer.Handle, int) {
	var handles []*transfer.Handle
	var skipped int

	for _, r := range reports {
		dest := dir
		if r.BoardNo != "" {
			dest = filepath.Join(dir, r.BoardNo)
		}
		req, err := transfer.NewRequest(downloadURL(r.ReportPath), dest,
			transfer.WithPolicy(policy))
		if err != nil {
			logger.Warn("skipping report",
				zap.String("board_no", r.BoardNo),
				zap.String("report_path", r.ReportPath),
				zap.Error(err))
			skipped++
			continue
		}

		h, err := manager.Submit(ctx, req)
		if err != nil {
			logger.Warn("submit failed",
				zap.String("url", req.URL),
				zap.Error(err))
			skipped++
			continue
		}
		handles = append(handles, h)
	}
	return handles, skipped
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "push detection records from a file",
		ArgsUsage: "<records-file>",
		Action:    runPush,
	}
}

func runPush(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: limsync push <records-file>")
	}

	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	f, err := os.Open(c.Args().First())
	if err != nil {
		return fmt.Errorf("open records file: %w", err)
	}
	defer f.Close()

	collector := metrics.NewCollector()
	records, err := push.ReadRecords(f, logger, collector)
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	if len(records) == 0 {
		logger.Info("no valid records to push")
		return nil
	}

	engine, err := push.NewEngine(push.EngineConfig{
		Endpoint:  cfg.API.PushURL,
		AppID:     cfg.API.AppID,
		AppSecret: cfg.API.AppSecret,
		BatchSize: cfg.Push.BatchSize,
		Policy:    cfg.Push.Retry.Policy(),
		Logger:    logger,
		Metrics:   collector,
	})
	if err != nil {
		return err
	}

	started := time.Now()
	summary := engine.Send(context.Background(), records)

	logger.Info("push finished",
		zap.Int("batches", summary.BatchCount),
		zap.Int("succeeded", summary.SuccessCount),
		zap.Int("failed", summary.FailureCount),
		zap.Int64("parse_errors", collector.Get(metrics.ParseError)),
		zap.Duration("elapsed", time.Since(started)))
	if summary.FailureCount > 0 {
		return fmt.Errorf("%d of %d batches failed", summary.FailureCount, summary.BatchCount)
	}
	return nil
}
