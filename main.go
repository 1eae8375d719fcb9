package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/tetraminz/sign_labels/internal/config"
	"github.com/tetraminz/sign_labels/internal/logging"
	"github.com/tetraminz/sign_labels/internal/pipeline"
)

func main() {
	log.SetFlags(0)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := runCLI(ctx); err != nil {
		stop()
		log.Fatalf("error: %v", err)
	}
}

func runCLI(ctx context.Context) error {
	if len(os.Args) < 2 {
		printUsage()
		return nil
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "build":
		return runPipelineCmd(ctx, command, config.ModeFrames, args)
	case "redistribute":
		return runPipelineCmd(ctx, command, config.ModeRedistribute, args)
	case "setup":
		return runSetupCmd(args)
	case "migrate":
		return runMigrateCmd(ctx, args)
	case "report":
		return runReportCmd(args)
	case "inspect":
		return runInspectCmd(args)
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runPipelineCmd(ctx context.Context, name, mode string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := flags.Load(mode)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	var recorder pipeline.Recorder
	if cfg.DBPath != "" {
		store, err := OpenSQLiteStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
	}

	result, err := pipeline.Run(ctx, cfg, logger, recorder)
	if err != nil {
		return err
	}
	if err := pipeline.PrintSummary(os.Stdout, result); err != nil {
		return err
	}
	if result.RunID != "" {
		fmt.Printf("run_id=%s db=%s\n", result.RunID, cfg.DBPath)
	}
	return nil
}

func runSetupCmd(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	dbPath := fs.String("db", defaultSQLitePath, "Path to SQLite DB file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := SetupSQLite(*dbPath); err != nil {
		return err
	}
	fmt.Printf("setup=ok db=%s\n", *dbPath)
	return nil
}

func runMigrateCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var archives config.StringList
	fs.Var(&archives, "archive", "Archive to import, <partition>=<path> or a path ending in .train/.dev/.test (repeatable)")
	dbPath := fs.String("db", defaultSQLitePath, "Path to SQLite DB file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runID, entries, err := MigrateArchivesToSQLite(ctx, archives, *dbPath)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s imported_entries=%d db=%s\n", runID, entries, *dbPath)
	return nil
}

func runReportCmd(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	dbPath := fs.String("db", defaultSQLitePath, "Path to SQLite DB file")
	runID := fs.String("run", "", "Run id (default: latest run)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := BuildReport(*dbPath, *runID)
	if err != nil {
		return err
	}
	PrintReport(report)
	return nil
}

func runInspectCmd(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	path := fs.String("archive", "", "Label archive to print")
	key := fs.String("key", "", "Print only this entry (prefixed or bare name)")
	limit := fs.Int("limit", 1, "Max entries to print (-1 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("--archive is required")
	}
	return InspectArchive(os.Stdout, *path, *key, *limit)
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run . build --annotations train.csv --annotations dev.csv --source_dir data/frames")
	fmt.Println("  go run . redistribute --config sign_labels.toml --prior data/Phonexi-2014T/labels.train --db out/sign_labels.db")
	fmt.Println("  go run . setup --db out/sign_labels.db")
	fmt.Println("  go run . migrate --archive data/Phonexi-2014T/labels.train --archive dev=old/dev.gz --db out/sign_labels.db")
	fmt.Println("  go run . report --db out/sign_labels.db [--run <run_id>]")
	fmt.Println("  go run . inspect --archive data/Phonexi-2014T/newlabels.train [--key <name>] [--limit 5]")
}
