package webui

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"figflow/pkg/bridge"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Command types accepted on the websocket.
const (
	CommandInput = "input"
	CommandStart = "start"
	CommandStop  = "stop"
)

// Command is a client message.
type Command struct {
	startRequest
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Reply acknowledges a command. Kind is "ack" or "error", distinct from the
// bridge event kinds.
type Reply struct {
	Kind    string `json:"kind"`
	Command string `json:"command"`
	RunID   string `json:"run_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket streams bridge events to the client: the durable history,
// then the current status, then live events. Client commands flow back.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	c := &wsConn{conn: conn}
	sub := s.opts.Bridge.Subscribe()
	s.logger.Debug("observer %d connected from %s (%d watching)", sub.ID(), r.RemoteAddr, s.opts.Bridge.SubscriberCount())

	done := make(chan struct{})
	go s.pump(c, sub, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("observer %d read failed: %v", sub.ID(), err)
			}
			break
		}
		if reply := s.dispatch(data); reply != nil {
			if err := c.write(reply); err != nil {
				break
			}
		}
	}

	s.opts.Bridge.Unsubscribe(sub)
	<-done
	_ = conn.Close()
	if n := sub.Dropped(); n > 0 {
		s.logger.Debug("observer %d disconnected, %d chunk(s) dropped", sub.ID(), n)
		return
	}
	s.logger.Debug("observer %d disconnected", sub.ID())
}

// pump forwards subscription events until the subscription closes or a write fails.
func (s *Server) pump(c *wsConn, sub *bridge.Subscription, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	events := sub.C()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.write(ev); err != nil {
				s.logger.Debug("observer %d write failed: %v", sub.ID(), err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) dispatch(data []byte) *Reply {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return &Reply{Kind: "error", Error: "invalid JSON"}
	}
	reply := &Reply{Kind: "ack", Command: cmd.Type}

	switch cmd.Type {
	case CommandInput:
		s.opts.Bridge.ProvideInput(cmd.Text)
		return nil
	case CommandStart:
		runID, _, err := s.start(&cmd.startRequest)
		if err != nil {
			reply.Kind, reply.Error = "error", err.Error()
			return reply
		}
		reply.RunID = runID
	case CommandStop:
		s.stop()
	default:
		reply.Kind, reply.Error = "error", "unknown command "+cmd.Type
	}
	return reply
}
