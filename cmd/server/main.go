package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"chatrelay/internal/cache"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	clog "chatrelay/internal/log"
	"chatrelay/internal/mw"
	"chatrelay/internal/server"
	"chatrelay/internal/service"
	"chatrelay/internal/store"
	"chatrelay/internal/ws"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// .env 可选，缺失时只使用进程环境变量。
	_ = godotenv.Load()

	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	messages := store.NewMessageStore(gdb)
	reactions := store.NewReactionStore(gdb)
	var history ws.MessageStore = messages

	var (
		rdb          *redis.Client
		historyCache *cache.HistoryCache
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		historyCache = cache.NewHistoryCache(messages, rdb, "chatrelay:", time.Duration(cfg.HistoryCacheTTL)*time.Second)
		if err := historyCache.Ping(context.Background()); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, history falls back to database")
		}
		history = historyCache
	}

	hub := ws.NewHub()
	users := service.NewUserService(gdb, cfg)
	wsHandler := ws.NewHandler(hub, users, history, reactions)

	h := server.NewHandler(gdb, hub, users, service.NewRoomService(gdb, hub), service.NewMessageService(messages, reactions))
	if historyCache != nil {
		h.WithCache(historyCache)
	}

	rl := mw.NewLimiter(rate.Limit(cfg.HTTPRatePerSec), cfg.HTTPBurst, 2*time.Minute)
	go rl.Run(30 * time.Second)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, h, wsHandler, rl),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Bool("history_cache", historyCache != nil).Msg("chatrelay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSec)*time.Second,
		map[string]gfshutdown.Operation{
			// 各操作并发执行，依赖顺序的步骤放在同一个操作里。
			"server": func(ctx context.Context) error {
				// Shutdown 不等待被劫持的 WebSocket 连接，由 hub 负责关闭。
				hub.CloseAll()
				err := srv.Shutdown(ctx)
				rl.Stop()
				if rdb != nil {
					err = errors.Join(err, rdb.Close())
				}
				sqlDB, dbErr := gdb.DB()
				if dbErr == nil {
					dbErr = sqlDB.Close()
				}
				return errors.Join(err, dbErr)
			},
		},
	)
	code := <-wait
	log.Info().Int("code", code).Msg("shutdown complete")
	os.Exit(code)
}
