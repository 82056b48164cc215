package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haidar-ali/staterelay/internal/model"
	syncengine "github.com/haidar-ali/staterelay/internal/sync"
)

const (
	// frame types exchanged over the wire.
	framePush = "push"
	framePull = "pull"
	frameAck  = "ack"

	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second
)

// frame is the WebSocket wire envelope. A client pushes its pending patches
// with a push frame and asks for the server's with a pull frame; the server
// answers both with an ack carrying any payload.
type frame struct {
	Type      string         `json:"type"`
	Patches   []*model.Patch `json:"patches,omitempty"`
	Types     []string       `json:"types,omitempty"`
	Conflicts int            `json:"conflicts,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ConflictHandler is called by the server for each conflict a pushed batch
// produced, so the hosting process can resolve them in-band.
type ConflictHandler func(conflicts []model.Conflict)

// Server exposes a sync engine to remote peers over WebSocket.
type Server struct {
	engine     *syncengine.Engine
	onConflict ConflictHandler
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// NewServer wraps engine for WebSocket serving. onConflict may be nil, in
// which case conflicts are left for the hosting process to pick up via the
// engine's Conflicts method.
func NewServer(engine *syncengine.Engine, onConflict ConflictHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:     engine,
		onConflict: onConflict,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: logger,
	}
}

// ServeHTTP upgrades the connection and serves sync frames until the peer
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.log.Info("peer connected", "remote", conn.RemoteAddr().String())
	for {
		var req frame
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("peer read failed", "error", err)
			}
			return
		}

		resp, commit := s.handle(&req)
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			s.log.Warn("peer write failed", "error", err)
			return
		}
		if commit != nil {
			commit()
		}
	}
}

// handle dispatches one request frame against the engine. The returned commit
// function, when non-nil, must run only after the response frame has been
// written: a pull's patches stay queued until the peer actually has them, so
// a failed write retries them on the next pull.
func (s *Server) handle(req *frame) (*frame, func()) {
	switch req.Type {
	case framePush:
		conflicts := s.engine.ApplyRemotePatches(req.Patches)
		if len(conflicts) > 0 && s.onConflict != nil {
			s.onConflict(conflicts)
		}
		return &frame{Type: frameAck, Conflicts: len(conflicts)}, nil

	case framePull:
		patches := s.engine.PendingPatches(req.Types...)
		commit := func() { s.engine.ClearPending(patches) }
		return &frame{Type: frameAck, Patches: patches}, commit

	default:
		return &frame{Type: frameAck, Error: fmt.Sprintf("unknown frame type %q", req.Type)}, nil
	}
}

// Client is the peer side of the WebSocket transport. Its SendPatches and
// ReceivePatches methods satisfy the engine's SendFunc and ReceiveFunc
// signatures; both retry transient failures with backoff.
//
// Client is not safe for concurrent use. The engine's single-flight sync
// already serialises calls to it.
type Client struct {
	url  string
	conn *websocket.Conn
	log  *slog.Logger
}

// Dial connects to a peer's sync endpoint.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing peer %s: %w", url, err)
	}
	logger.Info("connected to peer", "url", url)
	return &Client{url: url, conn: conn, log: logger}, nil
}

// SendPatches pushes a batch of local patches to the peer.
func (c *Client) SendPatches(ctx context.Context, patches []*model.Patch) error {
	if len(patches) == 0 {
		return nil
	}
	return Retry(ctx, DefaultMaxAttempts, func() error {
		resp, err := c.roundTrip(&frame{Type: framePush, Patches: patches})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("peer rejected push: %s", resp.Error)
		}
		if resp.Conflicts > 0 {
			c.log.Warn("push produced conflicts on peer", "count", resp.Conflicts)
		}
		return nil
	})
}

// ReceivePatches pulls the peer's pending patches.
func (c *Client) ReceivePatches(ctx context.Context) ([]*model.Patch, error) {
	var patches []*model.Patch
	err := Retry(ctx, DefaultMaxAttempts, func() error {
		resp, err := c.roundTrip(&frame{Type: framePull})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("peer rejected pull: %s", resp.Error)
		}
		patches = resp.Patches
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patches, nil
}

// roundTrip writes one frame and reads the matching ack.
func (c *Client) roundTrip(req *frame) (*frame, error) {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("writing %s frame: %w", req.Type, err)
	}
	var resp frame
	if err := c.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("reading %s ack: %w", req.Type, err)
	}
	return &resp, nil
}

// Close shuts the connection down cleanly.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	return c.conn.Close()
}
