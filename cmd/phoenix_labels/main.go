package main

/*
phoenix_labels rebuilds the PHOENIX-2014-T label archives in one shot.

Usage:
  go run ./cmd/phoenix_labels \
    --annotations data/PHOENIX-2014-T.train.corpus.csv \
    --annotations data/PHOENIX-2014-T.dev.corpus.csv \
    --annotations data/PHOENIX-2014-T.test.corpus.csv \
    --source_dir data/frames/SI

  go run ./cmd/phoenix_labels --mode redistribute \
    --annotations data/PHOENIX-2014-T.train.corpus.csv \
    --prior data/Phonexi-2014T/labels.train --policy reprefix

Flags:
  --mode            frames (default) or redistribute.
  --config          Optional TOML config; flags override it.
  --annotations     Annotation CSV/XLSX path, repeatable.
  --source_dir      Root of <tag>/<name>/*.png frame directories.
  --prior           Prior label archive (redistribute).
  --policy          recount or reprefix.
  --<split>_out     Output archive per split (train, dev, test).
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/tetraminz/sign_labels/internal/config"
	"github.com/tetraminz/sign_labels/internal/logging"
	"github.com/tetraminz/sign_labels/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	mode := flag.String("mode", "", "frames or redistribute (default from config, else frames)")
	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := flags.Load(*mode)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	if cfg.DBPath != "" {
		logger.Warn("run ledger is only written by the root CLI, ignoring db", "db", cfg.DBPath)
	}

	result, err := pipeline.Run(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	return pipeline.PrintSummary(os.Stdout, result)
}
