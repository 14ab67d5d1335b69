// Command chronicled is the maintenance and inspection tool for chronicle
// document stores.
//
//	chronicled -db documents.db stats
//	chronicled -db documents.db verify
//	chronicled -db documents.db prune -keep 4
//	chronicled -db documents.db serve -addr :8090
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/inkmill/chronicle/dbopen"
	"github.com/inkmill/chronicle/document"
	"github.com/inkmill/chronicle/eventstore"
	"github.com/inkmill/chronicle/replay"
	"github.com/inkmill/chronicle/snapshot"
)

func main() {
	dbPath := flag.String("db", "chronicle.db", "path to the document store")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "debug|info|warn|error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level(*logLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(*dbPath, dbopen.WithSchema(eventstore.Schema))
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	events := eventstore.New(db, eventstore.Options{Logger: logger})
	snaps := snapshot.NewStore(db)
	engine := replay.New(events, snaps, replay.Options{Logger: logger})

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "stats"
	}

	switch cmd {
	case "stats":
		err = runStats(ctx, events, snaps)
	case "verify":
		err = runVerify(ctx, events, snaps, engine)
	case "prune":
		err = runPrune(ctx, events, snaps, flag.Args()[1:])
	case "serve":
		err = runServe(ctx, events, snaps, flag.Args()[1:])
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		slog.Error("chronicled failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func runStats(ctx context.Context, events *eventstore.Store, snaps *snapshot.Store) error {
	docs, err := events.Documents(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		list, err := snaps.List(ctx, d.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %-24q  events=%d  snapshots=%d  updated=%s\n",
			d.ID, d.Title, d.LatestSeq+1, len(list), d.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

// runVerify checks sequence contiguity for every document and, where a
// snapshot exists, that the snapshot-accelerated load matches a full
// replay from zero. Documents are verified in parallel.
func runVerify(ctx context.Context, events *eventstore.Store, snaps *snapshot.Store, engine *replay.Engine) error {
	docs, err := events.Documents(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, d := range docs {
		d := d
		g.Go(func() error {
			if err := events.Verify(gctx, d.ID); err != nil {
				return fmt.Errorf("%s: %w", d.ID, err)
			}
			if err := verifySnapshotPath(gctx, snaps, engine, d.ID); err != nil {
				return fmt.Errorf("%s: %w", d.ID, err)
			}
			slog.Info("verified", "document_id", d.ID, "events", d.LatestSeq+1)
			return nil
		})
	}
	return g.Wait()
}

func verifySnapshotPath(ctx context.Context, snaps *snapshot.Store, engine *replay.Engine, docID string) error {
	snap, err := snaps.Latest(ctx, docID, -1)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return err
	}

	viaSnap, err := engine.Load(ctx, docID, snap.Sequence)
	if err != nil {
		return err
	}
	full, err := engine.Seek(ctx, docID, document.Empty(), snap.Sequence)
	if err != nil {
		return err
	}

	a, err := viaSnap.Marshal()
	if err != nil {
		return err
	}
	b, err := full.Marshal()
	if err != nil {
		return err
	}
	if string(a) != string(b) {
		return fmt.Errorf("snapshot at seq %d diverges from full replay", snap.Sequence)
	}
	return nil
}

func runPrune(ctx context.Context, events *eventstore.Store, snaps *snapshot.Store, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	keep := fs.Int("keep", 4, "snapshots to retain per document (min 2)")
	fs.Parse(args)

	docs, err := events.Documents(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		n, err := snaps.Prune(ctx, d.ID, *keep)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("pruned snapshots", "document_id", d.ID, "removed", n)
		}
	}
	return nil
}

// runServe exposes read-only store stats over HTTP for local inspection.
func runServe(ctx context.Context, events *eventstore.Store, snaps *snapshot.Store, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8090", "listen address")
	fs.Parse(args)

	r := chi.NewRouter()
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		docs, err := events.Documents(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, docs)
	})
	r.Get("/documents/{id}/snapshots", func(w http.ResponseWriter, req *http.Request) {
		list, err := snaps.List(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	})

	srv := &http.Server{Addr: *addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	slog.Info("inspection endpoint listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func level(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
