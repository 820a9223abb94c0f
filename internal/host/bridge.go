package host

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"github.com/plpmc/statmirror/internal/export"
)

//go:embed schema/bridge.schema.json
var bridgeSchema string

// BridgeConfig configures the websocket endpoint the game server pushes
// presence notifications to.
type BridgeConfig struct {
	// Enabled starts the bridge listener.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address. Defaults to ":8081".
	Addr string `yaml:"addr"`

	// Path is the websocket endpoint path. Defaults to "/host/events".
	Path string `yaml:"path"`

	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string `yaml:"token"`
}

// ApplyDefaults fills unset fields.
func (c *BridgeConfig) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8081"
	}

	if c.Path == "" {
		c.Path = "/host/events"
	}
}

// Validate checks the configuration.
func (c *BridgeConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if !strings.HasPrefix(c.Path, "/") {
		return errors.New("bridge.path must start with /")
	}

	return nil
}

type bridgePlayer struct {
	UUID string `json:"uuid"`
	Name string `json:"name,omitempty"`
}

type bridgeMessage struct {
	Type    string         `json:"type"`
	Player  *bridgePlayer  `json:"player,omitempty"`
	Players []bridgePlayer `json:"players,omitempty"`
}

type bridgeReply struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Bridge accepts join/leave/sync messages over a websocket and forwards
// them to a Roster.
type Bridge struct {
	log    logrus.FieldLogger
	cfg    BridgeConfig
	roster *Roster
	health *export.HealthMetrics
	schema *jsonschema.Schema

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewBridge creates a bridge feeding roster.
func NewBridge(
	log logrus.FieldLogger,
	cfg BridgeConfig,
	roster *Roster,
	health *export.HealthMetrics,
) (*Bridge, error) {
	cfg.ApplyDefaults()

	schema, err := jsonschema.CompileString("bridge.schema.json", bridgeSchema)
	if err != nil {
		return nil, fmt.Errorf("compiling bridge schema: %w", err)
	}

	return &Bridge{
		log:    log.WithField("component", "bridge"),
		cfg:    cfg,
		roster: roster,
		health: health,
		schema: schema,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 4 * 1024,
			// The game server is not a browser.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}, 2),
	}, nil
}

// Handler returns the websocket handler.
func (b *Bridge) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)

			return
		}

		conn, err := b.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			b.log.WithError(err).Debug("Websocket upgrade failed")

			return
		}

		b.track(conn)
		defer b.untrack(conn)

		b.log.WithField("remote", r.RemoteAddr).Info("Host bridge connected")

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					b.log.WithError(err).Debug("Host bridge read failed")
				}

				break
			}

			reply := bridgeReply{Type: "ack"}

			msgType, err := b.handleMessage(data)
			if err != nil {
				reply = bridgeReply{Type: "error", Message: err.Error()}

				b.log.WithError(err).Warn("Rejected host bridge message")
				b.countMessage(msgType, "rejected")
			} else {
				b.countMessage(msgType, "accepted")
			}

			if err := writeReply(conn, reply); err != nil {
				b.log.WithError(err).Debug("Host bridge write failed")

				break
			}
		}

		b.log.WithField("remote", r.RemoteAddr).Info("Host bridge disconnected")
	}
}

func (b *Bridge) authorized(r *http.Request) bool {
	if b.cfg.Token == "" {
		return true
	}

	return r.Header.Get("Authorization") == "Bearer "+b.cfg.Token
}

// handleMessage validates and applies one message. It returns the message
// type for metrics, or "invalid" when it could not be determined.
func (b *Bridge) handleMessage(data []byte) (string, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return "invalid", fmt.Errorf("decoding message: %w", err)
	}

	if err := b.schema.Validate(raw); err != nil {
		return "invalid", fmt.Errorf("validating message: %w", err)
	}

	var msg bridgeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "invalid", fmt.Errorf("decoding message: %w", err)
	}

	switch msg.Type {
	case "join", "leave":
		p, err := toPlayer(*msg.Player)
		if err != nil {
			return msg.Type, err
		}

		if msg.Type == "join" {
			b.roster.Join(p)
		} else {
			b.roster.Leave(p)
		}
	case "sync":
		players := make([]Player, 0, len(msg.Players))

		for _, bp := range msg.Players {
			p, err := toPlayer(bp)
			if err != nil {
				return msg.Type, err
			}

			players = append(players, p)
		}

		b.roster.Sync(players)
	}

	return msg.Type, nil
}

func toPlayer(bp bridgePlayer) (Player, error) {
	id, err := uuid.Parse(bp.UUID)
	if err != nil {
		return Player{}, fmt.Errorf("invalid uuid %q: %w", bp.UUID, err)
	}

	return Player{ID: id, Name: strings.TrimSpace(bp.Name)}, nil
}

func writeReply(conn *websocket.Conn, reply bridgeReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Bridge) countMessage(msgType, status string) {
	if b.health == nil {
		return
	}

	b.health.BridgeMessages.WithLabelValues(msgType, status).Inc()
}

func (b *Bridge) track(conn *websocket.Conn) {
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	if b.health != nil {
		b.health.BridgeConnections.Inc()
	}
}

func (b *Bridge) untrack(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()

	_ = conn.Close()

	if b.health != nil {
		b.health.BridgeConnections.Dec()
	}
}

// Start listens on the configured address.
func (b *Bridge) Start(_ context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(b.cfg.Path, b.Handler())

	ln, err := net.Listen("tcp", b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", b.cfg.Addr, err)
	}

	b.listener = ln
	b.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		b.log.WithFields(logrus.Fields{
			"addr": ln.Addr().String(),
			"path": b.cfg.Path,
		}).Info("Host bridge listening")

		if err := b.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			b.log.WithError(err).Error("Host bridge server error")
		}
	}()

	return nil
}

// Addr returns the actual listener address.
func (b *Bridge) Addr() string {
	if b.listener != nil {
		return b.listener.Addr().String()
	}

	return b.cfg.Addr
}

// Stop closes the listener and every open websocket.
func (b *Bridge) Stop() error {
	if b.server == nil {
		return nil
	}

	err := b.server.Close()

	// Hijacked connections are not closed by http.Server.Close.
	b.mu.Lock()
	for conn := range b.conns {
		_ = conn.Close()
	}
	b.mu.Unlock()

	return err
}
