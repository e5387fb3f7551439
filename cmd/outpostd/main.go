package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"outpost.ai/internal/backend"
	"outpost.ai/internal/persistence/actionlog"
	"outpost.ai/internal/persistence/scenefile"
	"outpost.ai/internal/persistence/sqlitestore"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var (
		addr      = flag.String("addr", getEnv("OUTPOST_ADDR", ":8080"), "http listen address")
		dataDir   = flag.String("data", getEnv("OUTPOST_DATA_DIR", "./data"), "runtime data directory")
		dbPath    = flag.String("db", getEnv("OUTPOST_DB", ""), "sqlite path (default: <data>/outpost.db)")
		seed      = flag.String("seed", getEnv("OUTPOST_SEED", ""), "comma-separated scene files to load when absent from the db")
		reseed    = flag.Bool("reseed", false, "replace stored scenes with the -seed files")
		origins   = flag.String("cors_origins", getEnv("OUTPOST_CORS_ORIGINS", ""), "comma-separated allowed browser origins (default: any)")
		journal   = flag.Bool("journal", getEnv("OUTPOST_JOURNAL", "true") == "true", "append action logs to <data>/actions/*.jsonl.zst")
		exportDir = flag.String("export", getEnv("OUTPOST_EXPORT_DIR", ""), "write every scene to this directory on shutdown (empty to disable)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[outpostd] ", log.LstdFlags|log.Lmicroseconds)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	dbp := strings.TrimSpace(*dbPath)
	if dbp == "" {
		dbp = filepath.Join(*dataDir, "outpost.db")
	}
	store, err := sqlitestore.Open(dbp)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	for _, p := range splitList(*seed) {
		if err := seedScene(ctx, store, p, *reseed, logger); err != nil {
			logger.Fatalf("seed %s: %v", p, err)
		}
	}

	var j *actionlog.Journal
	if *journal {
		j = actionlog.NewJournal(*dataDir)
		defer j.Close()
	}

	srv, err := backend.New(backend.Config{
		Store:          store,
		Journal:        j,
		Log:            logger,
		AllowedOrigins: splitList(*origins),
	})
	if err != nil {
		logger.Fatalf("backend: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Hijacked stream connections are not closed by Shutdown.
		srv.Close()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (db=%s)", *addr, dbp)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	if dir := strings.TrimSpace(*exportDir); dir != "" {
		exportScenes(store, dir, logger)
	}
	if n := store.Dropped(); n > 0 {
		logger.Printf("action logs dropped while the writer was behind: %d", n)
	}
}

func seedScene(ctx context.Context, store *sqlitestore.Store, path string, replace bool, logger *log.Logger) error {
	sc, err := scenefile.Read(path)
	if err != nil {
		return err
	}
	if sc.ID == "" {
		sc.ID = sceneIDFromPath(path)
	}
	if !replace {
		if _, err := store.Scene(ctx, sc.ID); err == nil {
			logger.Printf("seed %s: scene %s already stored", path, sc.ID)
			return nil
		}
	}
	if err := store.PutScene(ctx, sc); err != nil {
		return err
	}
	logger.Printf("seeded scene %s (%dx%d, %d buildings, %d agents)", sc.ID, sc.Dimensions.Cols, sc.Dimensions.Rows, len(sc.Buildings), len(sc.Agents))
	return nil
}

func exportScenes(store *sqlitestore.Store, dir string, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ids, err := store.SceneIDs(ctx)
	if err != nil {
		logger.Printf("export: %v", err)
		return
	}
	for _, id := range ids {
		sc, err := store.Scene(ctx, id)
		if err != nil {
			logger.Printf("export %s: %v", id, err)
			continue
		}
		path := filepath.Join(dir, id+scenefile.Ext)
		if err := scenefile.Write(path, sc); err != nil {
			logger.Printf("export %s: %v", id, err)
			continue
		}
		logger.Printf("exported %s", path)
	}
}

func sceneIDFromPath(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{scenefile.Ext, ".json"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
