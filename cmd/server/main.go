package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-watchparty/internal/api"
	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/history"
	"github.com/npezzotti/go-watchparty/internal/server"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/go-redis/redis/v8"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	redisAddr      string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for event history, disabled if empty")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[watchparty] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, redisAddr, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgPartyRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	var sink history.Sink = history.NopSink{}
	var store history.Store = history.NopSink{}
	if cfg.RedisAddr != "" {
		redisSink := history.NewRedisSink(redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		}), logger)
		sink, store = redisSink, redisSink
		defer func() {
			if err := redisSink.Close(); err != nil {
				logger.Println("history close:", err)
			}
		}()
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	partyServer, err := server.NewPartyServer(logger, dbConn, statsUpdater, sink, cfg)
	if err != nil {
		logger.Fatal("new party server:", err)
	}

	srv := api.NewWatchPartyApp(mux, logger, partyServer, dbConn, store, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go partyServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down party server...")
	if err := partyServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("party server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
