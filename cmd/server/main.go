package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/halaqah-id/halaqah-realtime/internal/api"
	"github.com/halaqah-id/halaqah-realtime/internal/config"
	"github.com/halaqah-id/halaqah-realtime/internal/database"
	"github.com/halaqah-id/halaqah-realtime/internal/presence"
	"github.com/halaqah-id/halaqah-realtime/internal/pubsub"
	"github.com/halaqah-id/halaqah-realtime/internal/server"
	"github.com/halaqah-id/halaqah-realtime/internal/stats"
	"github.com/redis/go-redis/v9"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	defaultDSN        = "host=localhost user=postgres password=postgres dbname=halaqah sslmode=disable"
	storeTimeout      = 3 * time.Second
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr              string
	dsn               string
	signingKey        string
	redisAddr         string
	redisPrefix       string
	instanceId        string
	heartbeatInterval time.Duration
	presenceTTL       time.Duration
	sweepInterval     time.Duration
	typingTimeout     time.Duration
	allowedOrigins    stringSliceFlag
)

func main() {
	logger := log.New(os.Stderr, "[halaqah-rt] ", log.LstdFlags)

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatal("dotenv:", err)
	}

	flag.StringVar(&addr, "addr", config.Getenv("HALAQAH_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.Getenv("HALAQAH_DSN", defaultDSN), "database connection string")
	flag.StringVar(&signingKey, "signing-key", config.Getenv("HALAQAH_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", config.Getenv("HALAQAH_REDIS_ADDR", ""), "redis address; empty keeps presence in memory")
	flag.StringVar(&redisPrefix, "redis-prefix", config.Getenv("HALAQAH_REDIS_PREFIX", config.DefaultRedisPrefix), "prefix of the presence keys")
	flag.StringVar(&instanceId, "instance-id", config.Getenv("HALAQAH_INSTANCE_ID", ""), "id of this process on the delivery bus")
	flag.DurationVar(&heartbeatInterval, "heartbeat-interval",
		config.GetenvDuration("HALAQAH_HEARTBEAT_INTERVAL", config.DefaultHeartbeatInterval), "client heartbeat interval")
	flag.DurationVar(&presenceTTL, "presence-ttl",
		config.GetenvDuration("HALAQAH_PRESENCE_TTL", config.DefaultPresenceTTL), "presence ttl")
	flag.DurationVar(&sweepInterval, "sweep-interval",
		config.GetenvDuration("HALAQAH_SWEEP_INTERVAL", config.DefaultSweepInterval), "reaper sweep interval")
	flag.DurationVar(&typingTimeout, "typing-timeout",
		config.GetenvDuration("HALAQAH_TYPING_TIMEOUT", config.DefaultTypingTimeout), "typing indicator timeout")
	allowedOrigins = config.GetenvList("HALAQAH_ALLOWED_ORIGINS")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if instanceId == "" {
		instanceId = uuid.NewString()
	}

	cfg, err := config.NewConfig(config.Params{
		ServerAddr:        addr,
		DatabaseDSN:       dsn,
		SigningSecret:     signingKey,
		AllowedOrigins:    allowedOrigins,
		RedisAddr:         redisAddr,
		RedisPrefix:       redisPrefix,
		InstanceId:        instanceId,
		HeartbeatInterval: heartbeatInterval,
		PresenceTTL:       presenceTTL,
		SweepInterval:     sweepInterval,
		TypingTimeout:     typingTimeout,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	dbConn, err := database.NewPgRepository(dbCtx, cfg.DatabaseDSN)
	cancel()
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	var (
		store presence.Store
		bus   pubsub.Bus
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping:", err)
		}

		store = presence.NewRedisStore(rdb, cfg.RedisPrefix, cfg.PresenceTTL)
		bus = pubsub.NewRedisBus(rdb, cfg.RedisPrefix+":deliveries", logger)
		logger.Printf("presence shared through redis at %s as instance %s", cfg.RedisAddr, cfg.InstanceId)
	} else {
		store = presence.NewMemoryStore(cfg.PresenceTTL)
		bus = pubsub.NewLocalBus()
		logger.Println("presence kept in memory; run a single instance")
	}
	defer bus.Close()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, "halaqah-realtime")
	statsUpdater.RegisterGauge("NumGoroutines", func() int64 { return int64(runtime.NumGoroutine()) })

	chatServer, err := server.NewChatServer(logger, dbConn, store, bus, statsUpdater, server.Options{
		InstanceId:    cfg.InstanceId,
		PresenceTTL:   cfg.PresenceTTL,
		SweepInterval: cfg.SweepInterval,
		TypingTimeout: cfg.TypingTimeout,
		StoreTimeout:  storeTimeout,
	})
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewApp(mux, logger, chatServer, dbConn, store, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
