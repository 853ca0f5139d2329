// Package hub exposes a link over HTTP: decoded messages fan out to
// websocket clients, and clients can publish messages back onto the link.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/serialrelay/internal/observability"
	"github.com/danmuck/serialrelay/internal/protocol/payload"
	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/danmuck/serialrelay/internal/sinks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxClients = 16
	clientBuffer      = 32
	writeWait         = 5 * time.Second
)

var ErrClientLimit = errors.New("hub: client limit reached")

// Link is the relay surface the hub needs.
type Link interface {
	Submit(m payload.Message) error
	ConnectionID() string
	Link() string
}

type Hub struct {
	ID         string
	Addr       string
	Started    time.Time
	MaxClients int

	link     Link
	router   *gin.Engine
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// New builds the router. CORS is only enabled when origins are given.
func New(id, addr string, link Link, corsOrigins []string) *Hub {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	h := &Hub{
		ID:         id,
		Addr:       addr,
		Started:    time.Now(),
		MaxClients: DefaultMaxClients,
		link:       link,
		router:     r,
		logger:     log.With().Str("component", "hub").Logger(),
		clients:    make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin(corsOrigins)}
	h.registerRoutes()
	return h
}

func (h *Hub) checkOrigin(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Hub) registerRoutes() {
	h.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"uptime":     time.Since(h.Started).String(),
			"service":    h.ID,
			"connection": h.link.ConnectionID(),
			"link":       h.link.Link(),
			"clients":    h.Clients(),
		})
	})
	h.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.router.GET("/ws", h.handleWebSocket)
}

func (h *Hub) Handler() http.Handler {
	return h.router
}

// Serve listens on Addr until ctx ends.
func (h *Hub) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: h.Addr, Handler: h.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	h.logger.Info().Str("addr", h.Addr).Msg("hub listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.closeAll()
		return srv.Shutdown(shutdownCtx)
	}
}

// Clients is the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Name() string { return "hub" }

// Publish broadcasts m to every client. Clients whose buffer is full are
// disconnected instead of slowing the link down.
func (h *Hub) Publish(_ context.Context, m session.ReceivedMessage) error {
	data, err := sinks.Marshal(m)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("client", id).Msg("dropping slow client")
			delete(h.clients, id)
			c.close()
		}
	}
	return nil
}

func (h *Hub) add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.MaxClients {
		return ErrClientLimit
	}
	h.clients[c.id] = c
	return nil
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// inbound is what a websocket client sends to publish on the link.
type inbound struct {
	Topic  string          `json:"topic"`
	Body   json.RawMessage `json:"body"`
	Schema string          `json:"schema,omitempty"`
}

func (h *Hub) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	cl := newClient(uuid.NewString(), conn)
	if err := h.add(cl); err != nil {
		h.logger.Warn().Str("remote_addr", c.Request.RemoteAddr).Msg("max clients reached, rejecting connection")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	logger := h.logger.With().Str("client", cl.id).Logger()
	logger.Info().Str("remote_addr", c.Request.RemoteAddr).Msg("websocket client connected")

	go cl.writePump(logger)
	defer func() {
		h.remove(cl.id)
		logger.Info().Msg("websocket client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket connection error")
			}
			return
		}
		if err := h.submit(data); err != nil {
			logger.Warn().Err(err).Msg("rejected client message")
			cl.trySend(errorFrame(err))
		}
	}
}

func (h *Hub) submit(data []byte) error {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Topic) == "" {
		return errors.New("hub: topic is required")
	}
	if len(in.Body) > 0 && !json.Valid(in.Body) {
		return errors.New("hub: body is not valid JSON")
	}
	return h.link.Submit(payload.Message{Topic: in.Topic, Body: in.Body, Schema: in.Schema})
}

func errorFrame(err error) []byte {
	out, _ := json.Marshal(map[string]string{"error": err.Error()})
	return out
}
