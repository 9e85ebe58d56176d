// Package node implements the session peer: the single
// long-lived WebSocket connection a node opens to the hive, with Auth
// handshake, drift-tolerant heartbeat, FIFO outbound sends, serialized
// inbound dispatch, and exponential-backoff reconnection. Only the node
// ever opens the connection; the hive side answers on the same envelope
// vocabulary in internal/hiveapi.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"swarmhive/internal/wire"
)

// Status is the snapshot the heartbeat ticker and StatusRequest handler
// both read, avoiding two divergent implementations of "what is my
// current load".
type Status struct {
	ActiveTasks       int
	AvailableCapacity int
	MemoryUsageMB     float64
	CPUPercent        float64
}

// StatusProvider reports a node's current load.
type StatusProvider interface {
	Status() Status
}

// Handler processes inbound frames. Implementations should return quickly; long-running work
// (running a task) should be handed off, not performed inline, since
// inbound dispatch is serialized per session.
type Handler interface {
	OnTaskAssign(wire.TaskAssign) error
	OnTaskCancel(wire.TaskCancel) error
	OnProjectSync(wire.ProjectSync) error
	OnLabelSync(wire.LabelSync) error
	OnTaskSyncResponse(wire.TaskSyncResponse) error
	OnNodeRemoved(nodeID string) (selfRemoved bool)
}

// Config configures a Peer.
type Config struct {
	HiveURL           string // ws(s):// URL of the session endpoint
	APIKey            string
	MachineID         string
	Name              string
	Capabilities      wire.Capabilities
	PublicURL         string
	HeartbeatInterval time.Duration // default 30s
	AuthTimeout       time.Duration // default 30s
	InitialBackoff    time.Duration // default 5s
	MaxBackoff        time.Duration // default 60s
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
}

// Peer owns the node's single WebSocket session to the hive. The zero
// value is not usable; use New.
type Peer struct {
	cfg     Config
	handler Handler
	status  StatusProvider
	logger  *log.Logger

	mu       sync.Mutex
	outbox   chan []byte
	nodeID   string
	orgID    string
	nodeStat wire.NodeStatus

	shutdown chan struct{}
}

// New creates a Peer. logger defaults to a prefixed stdout logger if nil.
func New(cfg Config, handler Handler, status StatusProvider, logger *log.Logger) *Peer {
	cfg.setDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "node-peer ", log.LstdFlags|log.LUTC)
	}
	return &Peer{
		cfg:      cfg,
		handler:  handler,
		status:   status,
		logger:   logger,
		nodeStat: wire.StatusPending,
		shutdown: make(chan struct{}),
	}
}

// Run connects, handshakes, and services the session until ctx is
// cancelled, reconnecting with exponential backoff on every disconnect.
// It returns nil when ctx is cancelled.
func (p *Peer) Run(ctx context.Context) error {
	backoff := p.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		cleanOrAuthed, err := p.runOnce(ctx, func() { backoff = p.cfg.InitialBackoff })
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.logger.Printf("session error: %v", err)
		}
		if cleanOrAuthed {
			backoff = p.cfg.InitialBackoff
		}
		p.logger.Printf("reconnecting in %s", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
}

// runOnce dials, handshakes, and services exactly one connection lifetime.
// resetBackoff is invoked the instant Auth succeeds. The returned bool
// reports whether the disconnect was clean (Close frame or successful
// auth occurred this lifetime), which is what resets the backoff schedule.
func (p *Peer) runOnce(ctx context.Context, resetBackoff func()) (clean bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.HiveURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := p.handshake(conn); err != nil {
		return false, err
	}
	resetBackoff()
	clean = true

	p.mu.Lock()
	p.outbox = make(chan []byte, 1024)
	p.nodeStat = wire.StatusOnline
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.outbox = nil
		p.mu.Unlock()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lastPong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case lastPong <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- p.writeLoop(connCtx, conn)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- p.heartbeatLoop(connCtx, conn)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- p.pingWatchdog(connCtx, conn, lastPong)
	}()
	// Unblock readLoop on cancellation: send a close frame, then drop the
	// socket. WriteControl is safe concurrently with writeLoop's writes.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	readErr := p.readLoop(connCtx, conn)
	cancel()
	wg.Wait()

	if readErr != nil {
		if ce, ok := readErr.(closeFrameErr); ok {
			p.logger.Printf("session closed by hive: %s", ce.reason)
			return true, nil
		}
		return clean, readErr
	}
	return clean, nil
}

type closeFrameErr struct{ reason string }

func (e closeFrameErr) Error() string { return "closed: " + e.reason }

func (p *Peer) handshake(conn *websocket.Conn) error {
	auth := wire.Auth{
		APIKey:          p.cfg.APIKey,
		MachineID:       p.cfg.MachineID,
		Name:            p.cfg.Name,
		Capabilities:    p.cfg.Capabilities,
		PublicURL:       p.cfg.PublicURL,
		ProtocolVersion: wire.ProtocolVersion,
	}
	b, err := wire.Encode(wire.TagAuth, auth)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(p.cfg.AuthTimeout))
	_, raw, err := conn.ReadMessage()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("await auth result: %w", err)
	}
	env, err := wire.Decode(raw)
	if err != nil {
		return err
	}
	if env.Type != wire.TagAuthResult {
		return fmt.Errorf("protocol violation: expected AuthResult, got %s", env.Type)
	}
	var result wire.AuthResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return fmt.Errorf("decode auth result: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("auth rejected: %s", result.Error)
	}
	p.mu.Lock()
	p.nodeID = result.NodeID
	p.orgID = result.OrganizationID
	p.mu.Unlock()
	return nil
}

// NodeID returns the id the hive assigned this node at the last successful
// auth, or "" before the first handshake completes.
func (p *Peer) NodeID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodeID
}

func (p *Peer) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	p.mu.Lock()
	outbox := p.outbox
	p.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-outbox:
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (p *Peer) heartbeatLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.sendHeartbeat(); err != nil {
				p.logger.Printf("heartbeat: %v", err)
			}
		}
	}
}

func (p *Peer) sendHeartbeat() error {
	st := p.status.Status()
	p.mu.Lock()
	nodeStat := p.nodeStat
	p.mu.Unlock()
	hb := wire.Heartbeat{
		Status:            nodeStat,
		ActiveTasks:       st.ActiveTasks,
		AvailableCapacity: st.AvailableCapacity,
		MemoryUsageMB:     &st.MemoryUsageMB,
		CPUUsagePercent:   &st.CPUPercent,
		Timestamp:         time.Now().UTC(),
	}
	return p.Send(wire.TagHeartbeat, hb)
}

// pingWatchdog sends a WebSocket-level ping every heartbeat interval and
// closes the connection if no pong arrives within 5x that interval.
func (p *Peer) pingWatchdog(ctx context.Context, conn *websocket.Conn, lastPong <-chan struct{}) error {
	interval := p.cfg.HeartbeatInterval
	timeout := 5 * interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lastPong:
			deadline = time.Now().Add(timeout)
		case <-ticker.C:
			if time.Now().After(deadline) {
				conn.Close()
				return fmt.Errorf("ping timeout after %s", timeout)
			}
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}
	}
}

func (p *Peer) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return closeFrameErr{reason: err.Error()}
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := wire.Decode(raw)
		if err != nil {
			p.logger.Printf("decode: %v", err)
			continue
		}
		if stop := p.dispatch(ctx, conn, env); stop {
			return closeFrameErr{reason: "Close frame"}
		}
	}
}

// dispatch handles one inbound envelope. Because readLoop is the only
// reader, dispatch calls are inherently serialized.
func (p *Peer) dispatch(ctx context.Context, conn *websocket.Conn, env wire.Envelope) (stop bool) {
	switch env.Type {
	case wire.TagTaskAssign:
		var m wire.TaskAssign
		if p.decodeOrLog(env, &m) {
			if err := p.handler.OnTaskAssign(m); err != nil {
				p.sendError(m.MessageID, err)
				return false
			}
			p.ack(m.MessageID)
		}
	case wire.TagTaskCancel:
		var m wire.TaskCancel
		if p.decodeOrLog(env, &m) {
			if err := p.handler.OnTaskCancel(m); err != nil {
				p.sendError(m.MessageID, err)
				return false
			}
			p.ack(m.MessageID)
		}
	case wire.TagProjectSync:
		var m wire.ProjectSync
		if p.decodeOrLog(env, &m) {
			if err := p.handler.OnProjectSync(m); err != nil {
				p.logger.Printf("project sync: %v", err)
			}
		}
	case wire.TagStatusRequest:
		var m wire.StatusRequest
		if p.decodeOrLog(env, &m) {
			if err := p.sendHeartbeat(); err != nil {
				p.logger.Printf("status request heartbeat: %v", err)
			}
			p.ack(m.MessageID)
		}
	case wire.TagLabelSync:
		var m wire.LabelSync
		if p.decodeOrLog(env, &m) {
			if err := p.handler.OnLabelSync(m); err != nil {
				p.logger.Printf("label sync: %v", err)
			}
		}
	case wire.TagTaskSyncResponse:
		var m wire.TaskSyncResponse
		if p.decodeOrLog(env, &m) {
			if err := p.handler.OnTaskSyncResponse(m); err != nil {
				p.logger.Printf("task sync response: %v", err)
			}
		}
	case wire.TagNodeRemoved:
		var m wire.NodeRemoved
		if p.decodeOrLog(env, &m) {
			if p.handler.OnNodeRemoved(m.NodeID) {
				p.logger.Printf("this node was removed: %s", m.Reason)
				return true
			}
		}
	case wire.TagClose:
		var m wire.Close
		p.decodeOrLog(env, &m)
		p.logger.Printf("hive requested close: %s", m.Reason)
		return true
	case wire.TagHeartbeatAck, wire.TagAck, wire.TagError:
		// informational; no action required.
	default:
		p.logger.Printf("debug: unknown tag %q ignored", env.Type)
	}
	return false
}

func (p *Peer) decodeOrLog(env wire.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		p.logger.Printf("decode %s: %v", env.Type, err)
		return false
	}
	return true
}

func (p *Peer) ack(messageID string) {
	if messageID == "" {
		return
	}
	if err := p.Send(wire.TagAck, wire.Ack{MessageID: messageID}); err != nil {
		p.logger.Printf("ack %s: %v", messageID, err)
	}
}

func (p *Peer) sendError(messageID string, err error) {
	if sendErr := p.Send(wire.TagError, wire.Error{MessageID: messageID, Error: err.Error()}); sendErr != nil {
		p.logger.Printf("send error frame: %v", sendErr)
	}
}

// SetStatus updates the node status reported on the next Heartbeat.
func (p *Peer) SetStatus(status wire.NodeStatus) {
	p.mu.Lock()
	p.nodeStat = status
	p.mu.Unlock()
}

// Send enqueues tag/payload for FIFO delivery on the outbound channel.
// It returns an error without blocking if the
// session is currently disconnected or the outbox is saturated; callers
// such as the sync engine treat this as a per-tick failure to retry later.
func (p *Peer) Send(tag wire.Tag, payload any) error {
	b, err := wire.Encode(tag, payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	outbox := p.outbox
	p.mu.Unlock()
	if outbox == nil {
		return fmt.Errorf("node: session not connected")
	}
	select {
	case outbox <- b:
		return nil
	default:
		return fmt.Errorf("node: outbox full, dropping %s", tag)
	}
}
