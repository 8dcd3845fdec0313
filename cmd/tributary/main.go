package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rodent-software/tributary"
	"github.com/rodent-software/tributary/chain"
	"github.com/rodent-software/tributary/dataset"
	"github.com/rodent-software/tributary/ingest"
	"github.com/rodent-software/tributary/storage"
)

const usage = `usage: tributary [flags] <command> [args]

commands:
  init                   create an empty repository
  add <manifest>         define a dataset from a snapshot manifest
  pull <name>            ingest new data for a dataset
  list                   list datasets
  log <name>             print a dataset's block history
  verify <name>          verify a dataset's chain integrity
  export <name> <file>   export a dataset's history as a CAR archive

flags:
`

func main() {
	store := flag.String("store", ".tributary", "repository directory")
	backend := flag.String("backend", "filesystem", "storage backend: filesystem or badger")
	since := flag.String("since", "", "pull: start of the requested range (RFC 3339)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, *store, *backend, *since, flag.Args()); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, log zerolog.Logger, store, backendKind, since string, args []string) error {
	backend, err := openBackend(backendKind, store)
	if err != nil {
		return err
	}
	defer func() {
		if closer, ok := backend.(io.Closer); ok {
			closer.Close()
		}
	}()
	repo := tributary.Open(backend, ingest.Config{}, log)

	switch cmd, args := args[0], args[1:]; cmd {
	case "init":
		fmt.Printf("initialized repository in %s\n", store)
		return nil
	case "add":
		if len(args) != 1 {
			return errors.New("add takes one manifest path")
		}
		return add(ctx, repo, args[0])
	case "pull":
		if len(args) != 1 {
			return errors.New("pull takes one dataset name")
		}
		return pull(ctx, repo, args[0], since)
	case "list":
		return list(ctx, repo)
	case "log":
		if len(args) != 1 {
			return errors.New("log takes one dataset name")
		}
		return printLog(ctx, repo, args[0])
	case "verify":
		if len(args) != 1 {
			return errors.New("verify takes one dataset name")
		}
		return verify(ctx, repo, args[0])
	case "export":
		if len(args) != 2 {
			return errors.New("export takes a dataset name and an output path")
		}
		return export(ctx, repo, args[0], args[1])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openBackend(kind, store string) (storage.Storage, error) {
	switch kind {
	case "filesystem":
		return storage.NewFilesystem(store)
	case "badger":
		return storage.NewBadger(store)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func add(ctx context.Context, repo *tributary.Repository, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	snapshot, err := dataset.ReadSnapshot(file)
	if err != nil {
		return err
	}
	if _, err := repo.Create(ctx, snapshot); err != nil {
		return err
	}
	fmt.Printf("added dataset %s\n", snapshot.Name)
	return nil
}

func pull(ctx context.Context, repo *tributary.Repository, name, since string) error {
	var opts tributary.PullOptions
	if since != "" {
		start, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return fmt.Errorf("invalid -since: %w", err)
		}
		opts.Since = start
	}
	result, err := repo.Pull(ctx, name, opts)
	if err != nil {
		return err
	}
	if result.UpToDate {
		fmt.Printf("%s: up to date\n", name)
	}
	if result.NewBlocks > 0 {
		fmt.Printf("%s: %d new block(s), head %s\n", name, result.NewBlocks, result.NewHead)
	}
	return nil
}

func list(ctx context.Context, repo *tributary.Repository) error {
	names, err := repo.Datasets(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		summary, err := repo.Summary(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s\tblocks=%d records=%d bytes=%d\n", name, summary.NumBlocks, summary.NumRecords, summary.DataSize)
	}
	return nil
}

func printLog(ctx context.Context, repo *tributary.Repository, name string) error {
	c, err := repo.Chain(ctx, name)
	if err != nil {
		return err
	}
	iter, err := c.Iterator(ctx)
	if err != nil {
		return err
	}
	for !iter.Done() {
		id, block, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("block %s\nsequence: %d\ntime: %s\n%s\n", id, block.Sequence,
			block.SystemTime.Format(time.RFC3339), describe(block))
	}
	return nil
}

func describe(block *chain.Block) string {
	switch payload := block.Payload.(type) {
	case *chain.DatasetDefinition:
		return fmt.Sprintf("definition: %s (%s source)", payload.Name, payload.Source.Kind)
	case *chain.DataSlice:
		return fmt.Sprintf("slice: %s, %d record(s), object %s", payload.Interval, payload.NumRecords, payload.Object)
	case *chain.Checkpoint:
		return fmt.Sprintf("checkpoint: %s", payload.Token)
	default:
		return "unknown payload"
	}
}

func verify(ctx context.Context, repo *tributary.Repository, name string) error {
	if err := repo.Verify(ctx, name); err != nil {
		return err
	}
	fmt.Printf("%s: chain verified\n", name)
	return nil
}

func export(ctx context.Context, repo *tributary.Repository, name, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := repo.Export(ctx, name, out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", name, path)
	return nil
}
