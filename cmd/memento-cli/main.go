// Command memento-cli is a thin administrative CLI over the memory engine
// (spec §1's "command-line surface" — deliberately out of core scope, kept
// here only as a wiring demonstration per SPEC_FULL.md). Subcommands are
// dispatched with the standard library's flag package: this tool is a
// single-purpose admin surface, not a multi-level command tree, so no
// Cobra-style framework is warranted (see DESIGN.md).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openclaw/memento/internal/config"
	"github.com/openclaw/memento/internal/engine"
	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/querypipeline"
)

// Exit codes per spec §6: 0 success, 2 validation, 3 storage, 4 embedding,
// 5 timeout, 1 other.
const (
	exitOK         = 0
	exitOther      = 1
	exitValidation = 2
	exitStorage    = 3
	exitEmbedding  = 4
	exitTimeout    = 5
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitOther)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(exitCodeFor(err))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	en, err := engine.Bootstrap(cfg, logger)
	if err != nil {
		// A Corrupt store still hands back a usable (write-refusing) Engine
		// so the operator can run "recover" against it (spec §7/§8 scenario
		// 5); every other bootstrap failure has no handle to act on.
		if en == nil || memerr.KindOf(err) != memerr.KindStorageCorrupt {
			fmt.Fprintln(os.Stderr, "bootstrapping engine:", err)
			os.Exit(exitCodeFor(err))
		}
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	defer en.Close()

	ctx := context.Background()
	cmd := os.Args[1]
	args := os.Args[2:]

	var runErr error
	switch cmd {
	case "remember":
		runErr = runRemember(ctx, en, args)
	case "recall":
		runErr = runRecall(ctx, en, args)
	case "stats":
		runErr = runStats(en, args)
	case "backup":
		runErr = runBackup(en, args)
	case "recover":
		runErr = runRecover(en, args)
	default:
		usage()
		os.Exit(exitOther)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "error:", runErr)
		os.Exit(exitCodeFor(runErr))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: memento-cli <remember|recall|stats|backup|recover> [flags]")
}

func exitCodeFor(err error) int {
	switch memerr.KindOf(err) {
	case memerr.KindValidation:
		return exitValidation
	case memerr.KindStorageCorrupt, memerr.KindStorageLocked, memerr.KindStorageIO, memerr.KindStorageSchema:
		return exitStorage
	case memerr.KindEmbeddingEncoder, memerr.KindEmbeddingTokenizer, memerr.KindEmbeddingUnavailable:
		return exitEmbedding
	case memerr.KindTimeout:
		return exitTimeout
	default:
		return exitOther
	}
}

func runRemember(ctx context.Context, en *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("remember", flag.ExitOnError)
	collection := fs.String("collection", "", "collection name")
	source := fs.String("source", "", "source identifier")
	session := fs.String("session", "", "session id")
	importance := fs.Float64("importance", 0, "importance in [0,1]")
	tags := fs.String("tags", "", "comma-separated tags")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return memerr.New(memerr.KindValidation, "remember requires a text argument")
	}
	text := strings.Join(fs.Args(), " ")

	var tagList []string
	if *tags != "" {
		tagList = strings.Split(*tags, ",")
	}

	id, err := en.Remember(ctx, text, models.RememberOptions{
		Collection: *collection,
		Source:     *source,
		SessionID:  *session,
		Importance: *importance,
		Tags:       tagList,
	})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runRecall(ctx context.Context, en *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("recall", flag.ExitOnError)
	collection := fs.String("collection", "", "collection name")
	topK := fs.Int("topk", 0, "number of results")
	source := fs.String("source", "", "filter: source")
	since := fs.String("since", "", "filter: since (ISO-8601 or relative, e.g. 7d)")
	timeoutMS := fs.Int64("timeout-ms", 0, "deadline in milliseconds")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return memerr.New(memerr.KindValidation, "recall requires a query argument")
	}
	query := strings.Join(fs.Args(), " ")

	raw := map[string]any{}
	if *source != "" {
		raw["source"] = *source
	}
	if *since != "" {
		raw["since"] = *since
	}
	filters, err := querypipeline.ParseFilters(raw)
	if err != nil {
		return err
	}

	results, err := en.Recall(ctx, query, models.RecallOptions{
		Collection: *collection,
		TopK:       *topK,
		Filters:    filters,
		TimeoutMS:  *timeoutMS,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func runStats(en *engine.Engine, args []string) error {
	stats, err := en.Stats()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runBackup(en *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	path := fs.String("path", "", "backup destination (default: backups/<timestamp>.db)")
	fs.Parse(args)

	dest, err := en.Backup(*path)
	if err != nil {
		return err
	}
	fmt.Println(dest)
	return nil
}

// runRecover implements the explicit "recover" call of spec §7/§8 scenario
// 5: restore the most recent backup over a Corrupt store and rebuild the
// in-memory index. maxAge bounds how old that backup may be; 0 (default)
// accepts any backup.
func runRecover(en *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	maxAge := fs.Duration("max-age", 0, "reject backups older than this (0 disables the check)")
	fs.Parse(args)

	restored, err := en.Recover(*maxAge)
	if err != nil {
		return err
	}
	fmt.Println(restored)
	return nil
}
