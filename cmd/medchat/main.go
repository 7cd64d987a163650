package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/4xmen/medchat/internal/access"
	"github.com/4xmen/medchat/internal/audit"
	"github.com/4xmen/medchat/internal/auth"
	"github.com/4xmen/medchat/internal/chat"
	"github.com/4xmen/medchat/internal/db"
	"github.com/4xmen/medchat/internal/handlers"
	"github.com/4xmen/medchat/internal/logger"
	"github.com/4xmen/medchat/internal/messaging"
	"github.com/4xmen/medchat/internal/metrics"
	"github.com/4xmen/medchat/internal/presence"
	"github.com/4xmen/medchat/internal/push"
	"github.com/4xmen/medchat/internal/ratelimit"
	"github.com/4xmen/medchat/internal/store"
	"github.com/4xmen/medchat/internal/store/mongo"
	"github.com/4xmen/medchat/internal/store/sqlite"
	"github.com/4xmen/medchat/internal/ws"
	"github.com/4xmen/medchat/pkg/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	logr, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logr.Sync()

	if err := runServer(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "migrate":
		return runMigrate(cfg, os.Stdout, args[1:])
	case "purge":
		return runPurge(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  medchat                    Start the server")
	fmt.Fprintln(out, "  medchat status [--json]    Show users, subscriptions and messages")
	fmt.Fprintln(out, "  medchat migrate open-subscriptions [--dry-run] [--database PATH]")
	fmt.Fprintln(out, "  medchat purge [--days N]   Delete messages older than N days")
}

// closableStore is a store.Store whose Close also releases the
// connection it was opened with.
type closableStore struct {
	store.Store
	closeFn func(context.Context) error
}

func (s *closableStore) Close(ctx context.Context) error {
	return s.closeFn(ctx)
}

// openStore opens and migrates the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "mongo":
		s, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		return s, nil
	default:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		database, err := db.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return &closableStore{
			Store:   sqlite.New(database.Conn()),
			closeFn: func(context.Context) error { return database.Close() },
		}, nil
	}
}

func runServer(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	hub := ws.NewHub(logr.Named("ws"))
	var limiterImpl ratelimit.Limiter = ratelimit.NewLocalLimiter()

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logr.Warn("redis unreachable, presence and rate limits stay process-local", zap.Error(err))
		} else {
			hub.WithPresence(presence.NewStore(rdb, "medchat", presence.DefaultTTL))
			limiterImpl = ratelimit.NewRedisLimiter(rdb, logr.Named("ratelimit"))
			logr.Info("redis connected", zap.String("addr", cfg.RedisAddr))
		}
	}

	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		nc, err := messaging.NewNATSClient(natsCfg, logr.Named("nats"))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Close()
		hub.WithRelay(nc)
	}

	var publisher audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		defer kp.Close()
		publisher = audit.NewBreakerPublisher(kp, audit.DefaultBreakerConfig(), logr.Named("audit"))
		logr.Info("audit events mirrored to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaAuditTopic))
	}
	recorder := audit.NewRecorder(st, publisher, logr.Named("audit"))

	checker := access.NewChecker(st)
	authSvc := auth.NewWithTokenTTL(st, cfg.JWTSecret, cfg.TokenTTL)

	deps := chat.Deps{
		Gate:         checker,
		Messages:     st,
		Emitter:      hub,
		Limiter:      limiterImpl,
		Auditor:      recorder,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logr.Named("chat"),
	}
	notifier := push.NewNotifier(st, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber, logr.Named("push"))
	if notifier != nil {
		deps.Notifier = notifier
	}
	engine := chat.New(deps)

	wsServer := ws.NewServer(hub, authSvc, checker, engine, logr.Named("ws")).WithLimiter(limiterImpl)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpLog := logr.Named("http")
	router := gin.New()
	router.Use(serverErrorLogger(httpLog))
	router.Use(requestLogger(httpLog))
	router.Use(panicRecovery(httpLog))
	router.Use(cors(cfg.CORSOrigins))

	loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
	registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})

	set := &handlers.Set{
		Auth:          handlers.NewAuthHandler(authSvc, httpLog),
		Messages:      handlers.NewMessageHandler(st, checker, engine, httpLog),
		Subscriptions: handlers.NewSubscriptionHandler(st, st, checker, recorder, httpLog),
		Admin:         handlers.NewAdminHandler(recorder, httpLog),
		Push:          handlers.NewPushHandler(st, cfg.VAPIDPublicKey, httpLog),
		AuthLimit:     authRateLimit(loginLimiter, registerLimiter, httpLog),
	}
	set.Mount(router.Group("/api/v1"))

	router.GET("/ws", wsServer.HandleWebSocket)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.Run(ctx) }()

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case err := <-hubErr:
		if err != nil {
			return fmt.Errorf("hub stopped: %w", err)
		}
	case <-ctx.Done():
		logr.Info("shutting down gracefully")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
