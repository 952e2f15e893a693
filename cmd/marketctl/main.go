// Command marketctl evaluates a YAML market snapshot offline: list and
// filter markets, quote a trade, or summarize a portfolio.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/policast/market-engine/internal/snapshot"
	"github.com/policast/market-engine/internal/store"
)

const usage = `usage: marketctl [-snapshot file] <command> [flags]

commands:
  markets     list markets (-search, -category, -type, -sort)
  quote       quote a trade (-address, -market, -option, -side, -qty, -limit)
  portfolio   summarize an address (-address)
`

func main() {
	snapshotPath := flag.String("snapshot", "snapshot.yaml", "path to market snapshot")
	verbose := flag.Bool("verbose", false, "log at debug level")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(context.Background(), os.Stdout, *snapshotPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "marketctl:", err)
		os.Exit(1)
	}
}

// env is the loaded snapshot plus a store seeded from it.
type env struct {
	snap  *snapshot.Snapshot
	store *store.MemoryStore
}

func load(ctx context.Context, path string) (*env, error) {
	snap, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	st := store.NewMemoryStore()
	if err := snap.Seed(ctx, st); err != nil {
		return nil, err
	}
	slog.Debug("snapshot loaded", "path", path, "markets", len(snap.Markets), "trades", len(snap.Trades))
	return &env{snap: snap, store: st}, nil
}

func run(ctx context.Context, out io.Writer, snapshotPath, cmd string, args []string) error {
	var fn func(context.Context, io.Writer, *env, []string) error
	switch cmd {
	case "markets":
		fn = runMarkets
	case "quote":
		fn = runQuote
	case "portfolio":
		fn = runPortfolio
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	e, err := load(ctx, snapshotPath)
	if err != nil {
		return err
	}
	return fn(ctx, out, e, args)
}
