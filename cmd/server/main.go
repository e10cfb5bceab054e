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

	"github.com/npezzotti/studyhub/internal/api"
	"github.com/npezzotti/studyhub/internal/chat"
	"github.com/npezzotti/studyhub/internal/config"
	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/server"
	"github.com/npezzotti/studyhub/internal/stats"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	defaultDSN        = "mongodb://localhost:27017"
	defaultOrigin     = "http://localhost:5173"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, config.SplitList(value)...)
	return nil
}

var (
	addr           string
	dsn            string
	dbName         string
	signingKey     string
	uploadDir      string
	allowedOrigins stringSliceFlag
)

func defaultAddr() string {
	if port := config.Getenv("PORT", ""); port != "" {
		return ":" + port
	}
	return "localhost:5000"
}

func main() {
	logger := log.New(os.Stderr, "[studyhub] ", log.LstdFlags)

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatal("env:", err)
	}

	flag.StringVar(&addr, "addr", defaultAddr(), "server address")
	flag.StringVar(&dsn, "dsn", config.Getenv("DATABASE_URL", defaultDSN), "MongoDB URI or Postgres connection string")
	flag.StringVar(&dbName, "db-name", config.Getenv("DATABASE_NAME", "studyhub"), "database name")
	flag.StringVar(&signingKey, "signing-key", config.Getenv("JWT_SECRET", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&uploadDir, "upload-dir", config.Getenv("UPLOAD_DIR", "uploads"), "directory for uploaded files")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = config.SplitList(config.Getenv("ALLOWED_ORIGINS", defaultOrigin))
	}

	cfg, err := config.NewConfig(addr, dsn, dbName, signingKey, uploadDir, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 30*time.Second)
	dbConn, err := database.Open(openCtx, cfg.DatabaseDSN, cfg.DatabaseName)
	cancelOpen()
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatService := chat.NewService(logger, dbConn, statsUpdater)
	chatServer := server.NewChatServer(logger, chatService, statsUpdater)

	app, err := api.NewStudyHubApp(mux, logger, chatServer, chatService, dbConn, statsUpdater, cfg)
	if err != nil {
		logger.Fatal("new app:", err)
	}

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
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

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
