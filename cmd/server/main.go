package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fioworld.ai/internal/config"
	"fioworld.ai/internal/persistence/indexdb"
	persistlog "fioworld.ai/internal/persistence/log"
	"fioworld.ai/internal/persistence/snapshot"
	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/server"
	"fioworld.ai/internal/sim/ratelimit"
	"fioworld.ai/internal/sim/world"
	"fioworld.ai/internal/transport/rest"
	"fioworld.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to server.yaml (optional)")
		addrFlag   = flag.String("addr", "", "http listen address (overrides config)")
		dataFlag   = flag.String("data", "", "runtime data directory (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite action index")
		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *dataFlag != "" {
		cfg.DataDir = *dataFlag
	}
	if key := strings.TrimSpace(os.Getenv("FIO_AGENT_KEY")); key != "" {
		cfg.AgentKeys = append(cfg.AgentKeys, config.AgentKeySpec{Key: key, Name: "env-agent"})
		cfg.Normalize()
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)

	overrides := map[string]world.Config{}
	for _, wspec := range cfg.Worlds {
		overrides[wspec.ID] = world.Config{
			Name:         wspec.Name,
			GroundRadius: wspec.GroundRadius,
			ProposalMode: wspec.ProposalMode,
		}
	}
	registry := world.NewRegistry(world.RegistryConfig{
		DefaultWorldID: cfg.DefaultWorldID,
		GroundRadius:   cfg.GroundRadius,
		Overrides:      overrides,
	}, logger)

	auditLog := persistlog.NewActionLogger(cfg.DataDir, logger)
	defer auditLog.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	}
	registry.SetAuditSink(multiAuditSink{a: auditLog, b: idx})

	// Resume from snapshot before serving traffic.
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(cfg.DataDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.Read(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		snapshot.Restore(registry, snap)
		logger.Printf("resumed %d worlds from %s", len(snap.Worlds), filepath.Base(snapshotToLoad))
	} else {
		// Seed the default world eagerly so the first join is cheap.
		registry.GetOrCreate(cfg.DefaultWorldID)
	}

	limiter := ratelimit.New()
	identities := cfg.IdentityStore()
	hub := server.NewHub(registry, limiter, identities, server.Limits{
		AgentPerMinute: cfg.RateLimits.AgentPerMinute,
		UserPerMinute:  cfg.RateLimits.UserPerMinute,
	}, logger)

	ctx, cancel := signalContext()
	defer cancel()

	// Periodic snapshot writer.
	go func() {
		t := time.NewTicker(time.Duration(cfg.SnapshotEverySeconds) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				writeSnapshot(registry, idx, cfg.DataDir, logger)
				return
			case <-t.C:
				writeSnapshot(registry, idx, cfg.DataDir, logger)
			}
		}
	}()

	// Housekeeping: expired memos and stale rate windows.
	go func() {
		t := time.NewTicker(time.Duration(cfg.MemoSweepSeconds) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := registry.Stores().SweepMemos(time.Now()); n > 0 {
					logger.Printf("swept %d expired memos", n)
				}
				limiter.Prune()
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(rw, "# HELP fioworld_sessions Current number of connected sessions.\n")
		fmt.Fprintf(rw, "# TYPE fioworld_sessions gauge\n")
		fmt.Fprintf(rw, "fioworld_sessions %d\n", hub.SessionCount())

		ids := registry.WorldIDs()
		sort.Strings(ids)
		fmt.Fprintf(rw, "# HELP fioworld_world_loaded_chunks Loaded chunk count.\n")
		fmt.Fprintf(rw, "# TYPE fioworld_world_loaded_chunks gauge\n")
		for _, id := range ids {
			if w, ok := registry.Get(id); ok {
				fmt.Fprintf(rw, "fioworld_world_loaded_chunks{world=%q} %d\n", id, w.ChunkCount())
			}
		}
		fmt.Fprintf(rw, "# HELP fioworld_world_sessions Sessions joined per world.\n")
		fmt.Fprintf(rw, "# TYPE fioworld_world_sessions gauge\n")
		for _, id := range ids {
			if w, ok := registry.Get(id); ok {
				fmt.Fprintf(rw, "fioworld_world_sessions{world=%q} %d\n", id, len(w.SessionIDs()))
			}
		}
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(hub, limiter, cfg.RateLimits.IPPerMinute, logger).Handler())
	rest.NewServer(hub, identities, logger).Routes(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func writeSnapshot(reg *world.Registry, idx *indexdb.SQLiteIndex, dataDir string, logger *log.Logger) {
	now := time.Now()
	snap := snapshot.Capture(reg, now)
	path := filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", now.Unix()))
	if err := snapshot.Write(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	chunks := 0
	for _, wv := range snap.Worlds {
		chunks += len(wv.Chunks)
	}
	if idx != nil {
		idx.RecordSnapshot(indexdb.SnapshotRow{
			Path:    path,
			SavedAt: now,
			Worlds:  len(snap.Worlds),
			Chunks:  chunks,
		})
	}
	logger.Printf("snapshot %s: %d worlds, %d chunks", filepath.Base(path), len(snap.Worlds), chunks)
}

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		// Names are unix timestamps, so lexical order is chronological.
		if e.Name() > filepath.Base(best) {
			best = filepath.Join(dir, e.Name())
		}
	}
	return best
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

type multiAuditSink struct {
	a *persistlog.ActionLogger
	b *indexdb.SQLiteIndex
}

func (m multiAuditSink) RecordAction(a protocol.WorldAction) {
	if m.a != nil {
		m.a.RecordAction(a)
	}
	if m.b != nil {
		m.b.RecordAction(a)
	}
}
