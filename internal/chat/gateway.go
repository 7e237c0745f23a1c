package chat

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/middleware"
)

type Options struct {
	SendBuffer     int
	ReadLimit      int64
	RateBurst      int
	RateInterval   time.Duration
	AllowedOrigins []string
}

// Gateway upgrades HTTP requests and runs one Client per socket.
type Gateway struct {
	hub      *Hub
	dispatch Dispatcher
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewGateway(hub *Hub, dispatch Dispatcher, opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{hub: hub, dispatch: dispatch, opts: opts, logger: logger}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", slog.String("remote", r.RemoteAddr), slog.Any("err", err))
		return
	}

	id := g.dispatch.Connect()
	client := &Client{
		ID:            id,
		Conn:          conn,
		Send:          make(chan []byte, g.opts.SendBuffer),
		Hub:           g.hub,
		Limiter:       middleware.NewRateLimiter(g.opts.RateBurst, g.opts.RateInterval),
		TypingLimiter: middleware.NewRateLimiter(g.opts.RateBurst, g.opts.RateInterval),
		dispatch:      g.dispatch,
		logger:        g.logger,
		readLimit:     g.opts.ReadLimit,
		done:          make(chan struct{}),
	}
	if !g.hub.attach(client) {
		conn.Close()
		g.dispatch.Disconnect(id)
		return
	}
	g.logger.Info("connection opened", slog.String("conn", id), slog.String("remote", r.RemoteAddr))

	// The directory is the first thing a client sees.
	if err := g.dispatch.Recipients(id); err != nil {
		g.logger.Warn("initial directory", slog.String("conn", id), slog.Any("err", err))
	}

	go client.WritePump()
	go client.ReadPump()
}
