package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"filesmanager/internal/api"
	"filesmanager/internal/auth"
	"filesmanager/internal/config"
	"filesmanager/internal/logging"
	"filesmanager/internal/objectstore"
	"filesmanager/internal/queue"
	"filesmanager/internal/redis"
	"filesmanager/internal/repositories/files"
	"filesmanager/internal/repositories/users"
	"filesmanager/internal/service/filemanager"
	"filesmanager/internal/storage"
	"filesmanager/internal/thumbnail"
	"filesmanager/internal/worker"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	roleAPI    = "api"
	roleWorker = "worker"
	roleAll    = "all"
)

func main() {
	cfg, err := config.Load(os.Getenv("FILES_MANAGER_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogFormat)

	dbType := os.Getenv("FILES_MANAGER_DB")
	if dbType == "" {
		dbType = storage.DriverSQLite
	}
	driver, err := storage.NormalizeDriver(dbType)
	if err != nil {
		log.Fatalf("database driver: %v", err)
	}
	db, err := storage.Open(driver, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, user_tokens, files
	if err := storage.Migrate(db, driver); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	userRepo := users.NewRepository(db, driver)
	fileRepo := files.NewRepository(db, driver)

	if len(os.Args) > 1 {
		if err := runCommand(os.Args[1:], userRepo); err != nil {
			log.Fatal(err)
		}
		return
	}

	role := strings.ToLower(os.Getenv("FILES_MANAGER_ROLE"))
	if role == "" {
		role = roleAll
	}
	if role != roleAPI && role != roleWorker && role != roleAll {
		log.Fatalf("unknown role %q", role)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	var rdb *redis.Client
	needRedis := cfg.BasicConfig.SessionStore == "redis" || cfg.Worker.Queue == "redis"
	if needRedis || cfg.Redis.Host != "" {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			if needRedis {
				log.Fatalf("create redis client: %v", err)
			}
			logger.Warn(ctx, "redis unavailable", "error", err)
			rdb = nil
		}
		defer rdb.Close()
	}

	if role == roleWorker && cfg.Worker.Queue != "redis" {
		log.Fatalf("role %q needs the redis queue: an in-memory queue is not shared between processes", role)
	}
	if role == roleAPI && cfg.Worker.Queue != "redis" {
		logger.Warn(ctx, "no worker consumes the in-memory queue in api role; image derivatives will not be produced")
	}

	store, err := objectstore.New(ctx, cfg)
	if err != nil {
		log.Fatalf("object store: %v", err)
	}
	jobs, err := queue.New(cfg, rdb, logger.With("component", "queue"))
	if err != nil {
		log.Fatalf("queue: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if role == roleWorker || role == roleAll {
		w := worker.New(fileRepo, store, thumbnail.NewResizer(), jobs, cfg.Worker.Concurrency, logger.With("component", "worker"))
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	if role == roleAPI || role == roleAll {
		var sessions auth.SessionStore
		if cfg.BasicConfig.SessionStore == "redis" {
			sessions = auth.NewRedisSessionStore(rdb)
		} else {
			sessions = auth.NewSQLSessionStore(db, driver)
		}
		ttl := time.Duration(cfg.BasicConfig.SessionTTLHours) * time.Hour
		authService, err := auth.NewService(userRepo, sessions, ttl)
		if err != nil {
			log.Fatalf("init auth service: %v", err)
		}
		fileService := filemanager.NewService(fileRepo, userRepo, store, jobs, logger.With("component", "files"))
		handlers := api.NewHandler(fileService, authService, userRepo, api.Options{
			MaxUploadBytes: cfg.BasicConfig.MaxUploadBytes,
			CORSOrigins:    cfg.BasicConfig.CORSOrigins,
			LoginLimiter:   auth.NewLoginLimiter(cfg.BasicConfig.LoginRatePerMinute),
			DB:             db,
			Redis:          rdb,
			Logger:         logger.With("component", "api"),
		})

		router := gin.Default()
		handlers.RegisterRoutes(router)

		srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
		g.Go(func() error {
			logger.Info(ctx, "http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func runCommand(args []string, userRepo *users.Repository) error {
	switch args[0] {
	case "adduser":
		if len(args) != 3 {
			return errors.New("usage: filesmanager adduser <email> <password>")
		}
		hash, err := auth.HashPassword(args[2])
		if err != nil {
			return err
		}
		user, err := userRepo.Create(context.Background(), args[1], hash)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		fmt.Printf("created user %d (%s)\n", user.ID, user.Email)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
