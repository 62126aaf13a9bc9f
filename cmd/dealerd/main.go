package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/holdemlab/dealerd/pkg/logging"
	"github.com/holdemlab/dealerd/pkg/server"
)

func main() {
	var (
		port           int
		storePath      string
		actionTimeout  int
		reconnectGrace int
		debugLevel     string
		noAutoStart    bool
	)
	flag.IntVar(&port, "port", envInt("PORT", 8080), "Port to listen on")
	flag.StringVar(&storePath, "db", os.Getenv("DEALERD_DB"), "Path to SQLite store (empty = in-memory)")
	flag.IntVar(&actionTimeout, "actiontimeout", envInt("ACTION_TIMEOUT_SECONDS", 15), "Action timeout in seconds")
	flag.IntVar(&reconnectGrace, "reconnectgrace", 30, "Reconnect grace period in seconds")
	flag.StringVar(&debugLevel, "debuglevel", "info", "Logging level: trace, debug, info, warn, error")
	flag.BoolVar(&noAutoStart, "noautostart", false, "Do not auto-start hands after the new-hand countdown")
	flag.Parse()

	logBackend, err := logging.NewLogBackend(os.Stdout, debugLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		Addr:           fmt.Sprintf(":%d", port),
		ActionTimeout:  time.Duration(actionTimeout) * time.Second,
		ReconnectGrace: time.Duration(reconnectGrace) * time.Second,
		StorePath:      storePath,
		AutoStart:      !noAutoStart,
		LogBackend:     logBackend,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
