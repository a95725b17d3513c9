// Package ws carries router traffic over websockets. Text frames are JSON,
// binary frames are CBOR; replies use the codec negotiated through the
// subprotocol, or the one of the first frame when none was negotiated.
package ws

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"remotedesk/internal/codec"
	"remotedesk/internal/domain"
	"remotedesk/internal/logging"
	"remotedesk/internal/router"
)

const (
	ProtocolJSON = "remotedesk.json"
	ProtocolCBOR = "remotedesk.cbor"

	defaultQueue        = 256
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultPayloadLimit = 10 << 20
	envelopeOverhead    = 64 << 10
)

var ErrQueueFull = errors.New("ws: send queue full")

// Dispatcher is the part of the router a connection talks to.
type Dispatcher interface {
	Register(ctx context.Context, conn router.Conn)
	Unregister(ctx context.Context, conn router.Conn)
	Dispatch(ctx context.Context, conn router.Conn, env codec.Envelope) error
}

type Options struct {
	Dispatcher   Dispatcher
	Logger       *log.Logger
	QueueSize    int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	ReadLimit    int64
	CheckOrigin  func(r *http.Request) bool
}

type Handler struct {
	dispatcher   Dispatcher
	logger       *log.Logger
	queue        int
	writeTimeout time.Duration
	pongTimeout  time.Duration
	readLimit    int64
	upgrader     websocket.Upgrader
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		dispatcher:   opts.Dispatcher,
		logger:       opts.Logger,
		queue:        opts.QueueSize,
		writeTimeout: opts.WriteTimeout,
		pongTimeout:  opts.PongTimeout,
		readLimit:    opts.ReadLimit,
	}
	if h.logger == nil {
		h.logger = log.New(io.Discard, "", 0)
	}
	if h.queue <= 0 {
		h.queue = defaultQueue
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = defaultWriteTimeout
	}
	if h.pongTimeout <= 0 {
		h.pongTimeout = defaultPongTimeout
	}
	if h.readLimit <= 0 {
		h.readLimit = ReadLimitFor(defaultPayloadLimit)
	}
	h.upgrader = websocket.Upgrader{
		Subprotocols: []string{ProtocolCBOR, ProtocolJSON},
		CheckOrigin:  opts.CheckOrigin,
	}
	return h
}

// ReadLimitFor sizes the frame limit for payloads of maxPayload bytes. Bulk
// bytes travel base64 encoded in JSON frames, and content up to half again
// over the limit must still arrive so the receiver can truncate it.
func ReadLimitFor(maxPayload int64) int64 {
	if maxPayload <= 0 {
		maxPayload = defaultPayloadLimit
	}
	allowance := maxPayload + maxPayload/2
	return (allowance+2)/3*4 + envelopeOverhead
}

// Serve upgrades the request and runs the connection until either side
// closes it. The caller has already authenticated identity.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, identity router.Identity) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	conn := &Conn{
		ws:       ws,
		id:       uuid.NewString(),
		identity: identity,
		queue:    make(chan router.Message, h.queue),
		done:     make(chan struct{}),
	}
	switch ws.Subprotocol() {
	case ProtocolCBOR:
		conn.setCodec(codec.CBOR{})
	case ProtocolJSON:
		conn.setCodec(codec.JSON{})
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.writePump(conn)
	}()

	h.dispatcher.Register(ctx, conn)
	h.readPump(ctx, conn)
	h.dispatcher.Unregister(context.Background(), conn)

	conn.close()
	writer.Wait()
	return nil
}

func (h *Handler) readPump(ctx context.Context, conn *Conn) {
	ws := conn.ws
	ws.SetReadLimit(h.readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})
	for {
		frameType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Allowlist(h.logger, map[string]string{
					"event":         "ws_read_failed",
					"connection_id": conn.id,
					"error":         err.Error(),
				})
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.pongTimeout))

		var c codec.Codec = codec.JSON{}
		if frameType == websocket.BinaryMessage {
			c = codec.CBOR{}
		}
		conn.adoptCodec(c)
		env, err := c.DecodeEnvelope(data)
		if err != nil {
			_ = conn.Send(router.Message{
				Type:      router.MsgError,
				Payload:   router.ErrorPayload{Code: domain.CodeOf(err), Kind: string(domain.KindOf(err)), Message: err.Error()},
				Timestamp: time.Now().UTC(),
			})
			continue
		}
		_ = h.dispatcher.Dispatch(ctx, conn, env)
	}
}

func (h *Handler) writePump(conn *Conn) {
	ws := conn.ws
	ping := time.NewTicker(h.pongTimeout * 9 / 10)
	defer func() {
		ping.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case msg := <-conn.queue:
			c := conn.replyCodec()
			data, err := c.Marshal(msg)
			if err != nil {
				logging.Allowlist(h.logger, map[string]string{
					"event":         "ws_encode_failed",
					"connection_id": conn.id,
					"type":          string(msg.Type),
					"error":         err.Error(),
				})
				continue
			}
			frameType := websocket.TextMessage
			if c.Binary() {
				frameType = websocket.BinaryMessage
			}
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := ws.WriteMessage(frameType, data); err != nil {
				conn.close()
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}
		case <-conn.done:
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Conn is a router.Conn backed by a websocket. Send only enqueues; the
// write pump owns the socket.
type Conn struct {
	ws       *websocket.Conn
	id       string
	identity router.Identity
	queue    chan router.Message
	done     chan struct{}

	mu     sync.Mutex
	c      codec.Codec
	closed bool
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Identity() router.Identity { return c.identity }

func (c *Conn) Send(msg router.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.Transient("connection_closed", nil)
	}
	select {
	case c.queue <- msg:
		return nil
	default:
		return domain.Transient("send_queue_full", ErrQueueFull)
	}
}

func (c *Conn) replyCodec() codec.Codec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.c == nil {
		return codec.JSON{}
	}
	return c.c
}

func (c *Conn) setCodec(next codec.Codec) {
	c.mu.Lock()
	c.c = next
	c.mu.Unlock()
}

// adoptCodec pins the reply codec to the first frame's when no subprotocol
// was negotiated.
func (c *Conn) adoptCodec(next codec.Codec) {
	c.mu.Lock()
	if c.c == nil {
		c.c = next
	}
	c.mu.Unlock()
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
