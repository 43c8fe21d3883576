package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gridpush.dev/internal/logging"
	"gridpush.dev/internal/persistence/indexdb"
	persistlog "gridpush.dev/internal/persistence/log"
	"gridpush.dev/internal/sim/tuning"
	"gridpush.dev/internal/sim/world"
	"gridpush.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		levelPath  = flag.String("level", "", "level yaml, overrides tuning level.path (\"-\" forces generation)")
		seed       = flag.Int64("seed", 0, "generator seed, overrides tuning level.seed when non-zero")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite move index")
		logLevel   = flag.String("log_level", "", "debug|info|warn|error (default: tuning logging.level)")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil && !os.IsNotExist(tuneErr) {
		// No logger yet.
		os.Stderr.WriteString("load tuning: " + tuneErr.Error() + "\n")
		os.Exit(1)
	}

	lvl := tune.Logging.Level
	if v := strings.TrimSpace(*logLevel); v != "" {
		lvl = v
	} else if v := strings.TrimSpace(os.Getenv("GRIDPUSH_LOG_LEVEL")); v != "" {
		lvl = v
	}
	logger, err := logging.New(logging.Options{
		Level:      lvl,
		Console:    true,
		File:       tune.Logging.File,
		MaxSizeMB:  tune.Logging.MaxSizeMB,
		MaxBackups: tune.Logging.MaxBackups,
		MaxAgeDays: tune.Logging.MaxAgeDays,
		Compress:   tune.Logging.Compress,
	})
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("world", *worldID))
	if tuneErr != nil {
		logger.Warn("tuning not found; using defaults", zap.String("path", tp))
	}

	lt := tune.Level
	switch p := strings.TrimSpace(*levelPath); p {
	case "":
	case "-":
		lt.Path = ""
	default:
		lt.Path = p
	}
	if *seed != 0 {
		lt.Seed = *seed
	}
	layout, err := loadLayout(*configDir, lt)
	if err != nil {
		logger.Fatal("load level", zap.Error(err))
	}

	w := world.New(world.WorldConfig{
		ID:              *worldID,
		TickRateHz:      tune.TickRateHz,
		MoveDuration:    tune.MoveDuration(),
		LevelName:       layout.Name,
		Spawn:           layout.Spawn,
		Bounds:          layout.Bounds,
		MaxQueuedInputs: tune.MaxQueuedInputs,
		PushCooldown:    tune.PushCooldown,
	})
	w.SetLogger(logger)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	var (
		loggers multiTickLogger
		idx     *indexdb.SQLiteIndex
	)
	mirror, logOpts, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatal("init journal mirror", zap.Error(err))
	}
	// Closed after the journal so the final segment is still uploaded.
	defer mirror.Close()
	if tune.Journal.Enabled {
		tickLog := persistlog.NewTickLoggerWithOptions(worldDir, logOpts)
		defer tickLog.Close()
		loggers = append(loggers, tickLog)

		if tune.Journal.IndexDB && !*disableDB {
			idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
			if err != nil {
				logger.Fatal("open index db", zap.Error(err))
			}
			defer idx.Close()
			loggers = append(loggers, idx)
		}
	}
	if len(loggers) > 0 {
		w.SetTickLogger(loggers)
	}

	// Built before Run so the initial board lands in the first journal entry.
	if err := rebuildFromLayout(w, layout); err != nil {
		logger.Fatal("build level", zap.Error(err))
	}
	recordLevelMeta(idx, layout.Name, lt.Seed, logger)
	logger.Info("level ready",
		zap.String("level", layout.Name),
		zap.Int("entities", len(layout.Placements)),
		zap.String("digest", w.Digest()),
	)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("world stopped", zap.Error(err))
		}
	}()

	a := &app{
		worldID:   *worldID,
		w:         w,
		idx:       idx,
		mirror:    mirror,
		log:       logger,
		configDir: *configDir,
		level:     lt,
	}
	mux := a.routes(
		envBool("GRIDPUSH_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		envBool("GRIDPUSH_ENABLE_PPROF_HTTP", false),
	)
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Duration(envInt("GRIDPUSH_READ_HEADER_TIMEOUT_S", 5)) * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("ListenAndServe", zap.Error(err))
	}
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// multiTickLogger fans one journal entry out to every sink.
type multiTickLogger []world.TickLogger

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	for _, l := range m {
		_ = l.WriteTick(entry)
	}
	return nil
}
