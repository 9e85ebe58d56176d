// Package shape implements the shape consumer: a client
// for a PostgreSQL-backed change-stream endpoint, generic over a
// ShapeSpec/Materializer pair so the node can wire one consumer per
// replicated table. Cursor state ({handle, offset}) is carried across
// calls; each NDJSON body line is one message, either a row operation
// (insert/update/delete) or a control frame (up-to-date/must-refetch).
package shape

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"swarmhive/internal/apperr"
)

// ShapeSpec configures one consumed shape.
type ShapeSpec struct {
	BaseURL string
	Table   string
	Where   string
	Columns []string
}

// Materializer applies a shape's change stream to local storage.
type Materializer interface {
	Insert(key string, value json.RawMessage) error
	Update(key string, value json.RawMessage) error
	Delete(key string) error
	Reset() error
}

// State is the consumer's resumable cursor: initial state has
// Offset "-1" and no handle.
type State struct {
	Handle string
	Offset string
}

// InitialState returns the cursor a fresh shape starts from.
func InitialState() State { return State{Offset: "-1"} }

// operation enumerates the per-message kinds on the wire.
type operation string

const (
	opInsert     operation = "insert"
	opUpdate     operation = "update"
	opDelete     operation = "delete"
	ctrlUpToDate operation = "up-to-date"
	ctrlRefetch  operation = "must-refetch"
)

type messageHeaders struct {
	Operation string `json:"operation,omitempty"`
	Control   string `json:"control,omitempty"`
}

type wireMessage struct {
	Headers messageHeaders  `json:"headers"`
	Key     *string         `json:"key,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// LiveTimeout is the HTTP client timeout used for long-poll requests
// (live=true), default 60s.
const LiveTimeout = 60 * time.Second

// CatchUpTimeout is the HTTP client timeout used for non-live requests,
// default 10s.
const CatchUpTimeout = 10 * time.Second

// MaxBackoff bounds the reconnect backoff on transient transport errors.
const MaxBackoff = 30 * time.Second

// Consumer drives one shape's long-poll loop against a Materializer.
type Consumer struct {
	spec   ShapeSpec
	mat    Materializer
	state  State
	live   bool
	logger *log.Logger
}

// New creates a Consumer starting from InitialState.
func New(spec ShapeSpec, mat Materializer, logger *log.Logger) *Consumer {
	return &Consumer{spec: spec, mat: mat, state: InitialState(), logger: logger}
}

// State returns the consumer's current cursor, for persistence across
// node restarts if a caller chooses to save it.
func (c *Consumer) State() State { return c.state }

// Run polls until ctx is cancelled, switching between a catch-up fetch and
// a long-poll fetch once caught up, with bounded backoff on
// transient transport errors.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		caughtUp, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.warnf("shape %s: poll: %v; retrying in %s", c.spec.Table, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff *= 2
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}
			continue
		}
		backoff = time.Second
		c.live = caughtUp
	}
}

func (c *Consumer) warnf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// poll issues exactly one request and processes its body. It returns
// whether the batch ended on up-to-date, which is what tells the caller to
// reopen with live=true next time.
func (c *Consumer) poll(ctx context.Context) (caughtUp bool, err error) {
	req, err := c.buildRequest(ctx)
	if err != nil {
		return false, err
	}
	client := &http.Client{Timeout: CatchUpTimeout}
	if c.live {
		client.Timeout = LiveTimeout
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("shape request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("shape %s: status %d: %w", c.spec.Table, resp.StatusCode, apperr.ErrProtocol)
	}

	handle := resp.Header.Get("electric-handle")
	offset := resp.Header.Get("electric-offset")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		refetch, upToDate, err := c.handleMessage(line)
		if err != nil {
			return false, err
		}
		if refetch {
			c.state = InitialState()
			return false, nil
		}
		if upToDate {
			caughtUp = true
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("shape %s: read body: %w", c.spec.Table, err)
	}

	if handle != "" {
		c.state.Handle = handle
	}
	if offset != "" {
		c.state.Offset = offset
	}
	return caughtUp, nil
}

// handleMessage applies a single NDJSON line, reporting whether it was a
// must-refetch control frame and whether it was up-to-date.
func (c *Consumer) handleMessage(line []byte) (refetch, upToDate bool, err error) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return false, false, fmt.Errorf("shape %s: decode message: %w", c.spec.Table, apperr.ErrProtocol)
	}

	switch {
	case msg.Headers.Control == string(ctrlUpToDate):
		return false, true, nil
	case msg.Headers.Control == string(ctrlRefetch):
		return true, false, c.mat.Reset()
	case msg.Headers.Control != "":
		return false, false, fmt.Errorf("shape %s: unknown control %q: %w", c.spec.Table, msg.Headers.Control, apperr.ErrProtocol)
	}

	switch operation(msg.Headers.Operation) {
	case opInsert:
		if msg.Key == nil || msg.Value == nil {
			return false, false, fmt.Errorf("shape %s: insert missing key/value: %w", c.spec.Table, apperr.ErrProtocol)
		}
		return false, false, c.mat.Insert(*msg.Key, msg.Value)
	case opUpdate:
		if msg.Key == nil || msg.Value == nil {
			return false, false, fmt.Errorf("shape %s: update missing key/value: %w", c.spec.Table, apperr.ErrProtocol)
		}
		return false, false, c.mat.Update(*msg.Key, msg.Value)
	case opDelete:
		if msg.Key == nil {
			return false, false, fmt.Errorf("shape %s: delete missing key: %w", c.spec.Table, apperr.ErrProtocol)
		}
		return false, false, c.mat.Delete(*msg.Key)
	default:
		return false, false, fmt.Errorf("shape %s: unknown operation %q: %w", c.spec.Table, msg.Headers.Operation, apperr.ErrProtocol)
	}
}

func (c *Consumer) buildRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(c.spec.BaseURL + "/v1/shape")
	if err != nil {
		return nil, fmt.Errorf("shape %s: parse base url: %w", c.spec.Table, err)
	}
	q := u.Query()
	q.Set("table", c.spec.Table)
	q.Set("offset", c.state.Offset)
	if c.state.Handle != "" {
		q.Set("handle", c.state.Handle)
	}
	if c.spec.Where != "" {
		q.Set("where", c.spec.Where)
	}
	if len(c.spec.Columns) > 0 {
		cols, _ := json.Marshal(c.spec.Columns)
		q.Set("columns", string(cols))
	}
	if c.live {
		q.Set("live", strconv.FormatBool(true))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("shape %s: build request: %w", c.spec.Table, err)
	}
	return req, nil
}
