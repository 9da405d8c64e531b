// Command hived wires the six core Hive components together into a
// single running process: it creates no business logic of its own,
// only the constructors, and then waits for a shutdown signal. It runs
// no periodic daemon health check.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nyasuto/hive/internal/comb"
	"github.com/nyasuto/hive/internal/coordinate"
	"github.com/nyasuto/hive/internal/hiveconfig"
	"github.com/nyasuto/hive/internal/hivelog"
	"github.com/nyasuto/hive/internal/pane"
	"github.com/nyasuto/hive/internal/substrate"
	"github.com/nyasuto/hive/internal/syncmgr"
)

var log = hivelog.Get("hived")

func main() {
	app := &cli.App{
		Name:  "hived",
		Usage: "run the Hive coordination daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "hive root directory (defaults to config/root_dir)"},
			&cli.StringFlag{Name: "config-dir", Usage: "directory to search for hive.yaml", Value: "."},
			&cli.StringSliceFlag{Name: "worker", Usage: "logical worker pane name, repeatable"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hived:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := hiveconfig.Load(c.String("config-dir"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if root := c.String("root"); root != "" {
		cfg.RootDir = root
	}
	if workers := c.StringSlice("worker"); len(workers) > 0 {
		cfg.Workers = workers
	}

	if c.Bool("verbose") {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		zl, err := zc.Build()
		if err == nil {
			hivelog.SetGlobal(zl)
		}
	}

	log.Info("starting hived", "root", cfg.RootDir, "workers", cfg.Workers)

	sub := substrate.New(cfg.RootDir)
	if err := sub.EnsureStructure(); err != nil {
		return fmt.Errorf("preparing hive root: %w", err)
	}

	router := comb.New(sub)
	_ = syncmgr.New(sub)

	mux := pane.NewMux()
	paneCfg := pane.DefaultConfig()
	paneCfg.ReadyTokens = cfg.ReadyTokens
	paneCfg.ResponseTerminators = cfg.ResponseTerminators
	transport := pane.New(mux, paneCfg)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if len(cfg.Workers) > 0 {
		if err := transport.EnsureSession(ctx, "hive", cfg.Workers); err != nil {
			return fmt.Errorf("preparing pane session: %w", err)
		}
	}

	watch := coordinate.NewWatchLog(sub)
	coord := coordinate.New("queen", router, transport, watch, nil)
	_ = coord

	log.Info("hived ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutting down")
	case <-ctx.Done():
	}

	return nil
}
