// chessnet-server is the authoritative chess server: it accepts framed
// JSON connections over TCP (and optionally WebSocket), authenticates
// players, matches them into rated games and arbitrates every move.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hailam/chessnet/internal/auth"
	"github.com/hailam/chessnet/internal/config"
	"github.com/hailam/chessnet/internal/server"
	"github.com/hailam/chessnet/internal/store"
	"github.com/seekerror/logw"
)

var (
	dev         = flag.Bool("dev", false, "development mode: in-memory stores, ephemeral token secret, relaxed rate limit")
	development = flag.Bool("development", false, "synonym for --dev")
	port        = flag.Int("port", 0, "TCP port to listen on (default 8787)")
	bind        = flag.String("bind", "", "bind address (default 0.0.0.0)")
	dataDir     = flag.String("data", "", "database directory (default ./data)")
	wsPort      = flag.Int("ws-port", 0, "WebSocket bridge port (disabled when 0)")
)

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Default()
	if *dev || *development {
		cfg = config.Dev()
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *bind != "" {
		cfg.Server.BindAddress = *bind
	}
	if *dataDir != "" {
		cfg.Database.Dir = *dataDir
	}
	if cfg.Security.TokenSecret == "" {
		if s := os.Getenv("CHESSNET_TOKEN_SECRET"); s != "" {
			cfg.Security.TokenSecret = s
		} else {
			cfg.Security.TokenSecret = auth.NewSecret()
			logw.Warningf(ctx, "no token secret configured; sessions will not survive a restart")
		}
	}

	var st store.Store
	if cfg.Database.UseInMemory {
		st = store.NewMemory()
		logw.Infof(ctx, "using in-memory stores")
	} else {
		b, err := store.OpenBadger(cfg.Database.Dir)
		if err != nil {
			logw.Exitf(ctx, "open database %v: %v", cfg.Database.Dir, err)
		}
		st = b
	}
	defer st.Close()

	am, err := auth.NewManager(cfg, st)
	if err != nil {
		logw.Exitf(ctx, "auth manager: %v", err)
	}

	hub := server.New(cfg, st, am)

	if *wsPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.ServeWS)
		ws := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.BindAddress, *wsPort),
			Handler: mux,
		}
		go func() {
			logw.Infof(ctx, "websocket bridge on %v", ws.Addr)
			if err := ws.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logw.Errorf(ctx, "websocket bridge: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			ws.Shutdown(shutdownCtx)
		}()
	}

	if err := hub.Run(ctx); err != nil {
		logw.Exitf(ctx, "server: %v", err)
	}
	logw.Infof(ctx, "shutdown complete")
}
