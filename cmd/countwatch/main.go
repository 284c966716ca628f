package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"countwatch/internal/config"
	"countwatch/internal/storage"
	"countwatch/pkg/countwatch"
)

var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "runs":
			return runRuns(ctx, args[1:])
		case "swarms":
			return runSwarms(ctx, args[1:])
		}
	}
	return runStages(ctx, args)
}

type clientFlags struct {
	configPath *string
	storeKind  *string
	dbPath     *string
}

func bindClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		configPath: fs.String("config", "", "config file (default countwatch.yaml or configs/countwatch.yaml)"),
		storeKind:  fs.String("store", "", "store backend: memory|sqlite (default "+storage.DefaultStoreKind()+")"),
		dbPath:     fs.String("db-path", "", "sqlite database path"),
	}
}

func (f clientFlags) open() (*countwatch.Client, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, err
	}
	return countwatch.New(countwatch.Options{
		Config:    cfg,
		StoreKind: *f.storeKind,
		DBPath:    *f.dbPath,
		Out:       stdout,
	})
}

// runStages treats every positional argument as a stage token.
func runStages(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("countwatch", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), usage)
		fs.PrintDefaults()
	}
	flags := bindClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := flags.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	return client.Run(ctx, fs.Args())
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	flags := bindClientFlags(fs)
	stage := fs.String("stage", "", "only list runs of this stage: swarm|train|test")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := flags.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, countwatch.RunsRequest{Stage: *stage, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(stdout, "run_id=%s stage=%s input=%s output=%s passes=%d rows=%d started=%s duration=%s",
			run.ID,
			run.Stage,
			run.InputPath,
			run.OutputPath,
			run.Passes,
			run.Rows,
			run.StartedAt.UTC().Format(time.RFC3339),
			time.Duration(run.DurationMS)*time.Millisecond,
		)
		if run.BestScore != nil {
			fmt.Fprintf(stdout, " best_score=%.6f", *run.BestScore)
		}
		fmt.Fprintln(stdout)
	}
	return nil
}

func runSwarms(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("swarms", flag.ContinueOnError)
	flags := bindClientFlags(fs)
	limit := fs.Int("limit", 20, "max swarm runs to list")
	jsonOut := fs.Bool("json", false, "emit swarm runs as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := flags.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.SwarmHistory(ctx, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no swarm runs found")
		return nil
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "run_id=%s created_at=%s source=%s size=%s candidates=%d rows=%d",
			item.RunID,
			item.CreatedAtUTC,
			item.Source,
			item.SwarmSize,
			item.CandidateCount,
			item.Rows,
		)
		if item.BestScore != nil {
			fmt.Fprintf(stdout, " best_score=%.6f", *item.BestScore)
		}
		fmt.Fprintln(stdout)
	}
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const usage = "usage: countwatch [-config path] [-store memory|sqlite] [-db-path path] [swarm] [train] [test good|bad]\n" +
	"       countwatch runs [-stage s] [-limit n] [-json]\n" +
	"       countwatch swarms [-limit n] [-json]"
