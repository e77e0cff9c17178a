package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/live-view/liveview-backend/pkg/dispatch"
	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/protocol"
	"github.com/live-view/liveview-backend/pkg/session"
)

var (
	errTextMessage    = errors.New("text messages are not supported")
	errDuplicateHello = errors.New("handshake after session start")
)

// conn is one client attached to one session over a WebSocket.
type conn struct {
	srv       *Server
	ws        *websocket.Conn
	view      *live.View
	sessionID string
	hello     *protocol.ServerHello
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan work
	wg     sync.WaitGroup

	writeMu   sync.Mutex
	closeOnce sync.Once

	explicit atomic.Bool // Client sent ControlClose
	replaced atomic.Bool // Another connection resumed the session
	expired  atomic.Bool // The store destroyed the session
}

// work is one unit for the event loop: a client event, a server push or a
// resync request.
type work struct {
	event  *protocol.Event
	push   live.Mutation
	resync bool
}

// handleLive upgrades the request, performs the handshake and serves the
// connection until it closes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c, err := s.handshake(ws)
	if err != nil {
		s.logger.Debug("handshake failed", "error", err, "remote", r.RemoteAddr)
		ws.Close()
		return
	}
	c.serve()
}

// handshake reads the ClientHello and mounts or resumes its session. On
// failure the client has been sent an error ServerHello.
func (s *Server) handshake(ws *websocket.Conn) (*conn, error) {
	ws.SetReadLimit(s.config.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))

	mt, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if mt != websocket.BinaryMessage {
		s.reject(ws, protocol.HandshakeInvalidFormat)
		return nil, errTextMessage
	}

	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.reject(ws, protocol.HandshakeInvalidFormat)
		return nil, err
	}
	hello, ok := msg.(*protocol.ClientHello)
	if !ok {
		s.reject(ws, protocol.HandshakeInvalidFormat)
		return nil, fmt.Errorf("expected handshake, got %T", msg)
	}
	if !hello.Version.Compatible(protocol.CurrentVersion) {
		s.reject(ws, protocol.HandshakeVersionMismatch)
		return nil, fmt.Errorf("incompatible protocol version %d.%d", hello.Version.Major, hello.Version.Minor)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	defer cancel()

	c, err := s.attach(ctx, ws, hello)
	if err != nil {
		s.reject(ws, handshakeStatus(err))
		return nil, err
	}
	return c, nil
}

// attach resumes the session named by the hello's token, falling back to
// mounting a fresh session of the hello's view.
func (s *Server) attach(ctx context.Context, ws *websocket.Conn, hello *protocol.ClientHello) (*conn, error) {
	if hello.ResumeToken != "" {
		c, err := s.resume(ctx, ws, hello.ResumeToken)
		if err == nil {
			return c, nil
		}
		s.logger.Debug("resume failed, mounting new session", "view", hello.View, "error", err)
	}

	m, err := s.dispatcher.Mount(ctx, hello.View, live.Payload(hello.Params))
	if err != nil {
		return nil, err
	}
	c, err := s.newConn(ws, m)
	if err == nil {
		err = s.register(c)
	}
	if err != nil {
		s.dispatcher.Disconnect(m.SessionID, true)
		return nil, err
	}
	return c, nil
}

func (s *Server) resume(ctx context.Context, ws *websocket.Conn, token string) (*conn, error) {
	id, ok := session.TokenSessionID(token)
	if !ok {
		return nil, session.ErrInvalidToken
	}
	mu := s.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	m, err := s.dispatcher.Resume(ctx, token)
	if err != nil {
		return nil, err
	}
	c, err := s.newConn(ws, m)
	if err == nil {
		err = s.register(c)
	}
	if err != nil {
		s.dispatcher.Disconnect(m.SessionID, false)
		return nil, err
	}
	return c, nil
}

func (s *Server) newConn(ws *websocket.Conn, m *dispatch.Mounted) (*conn, error) {
	view, err := s.dispatcher.Views().Lookup(m.View)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(s.ctx)
	return &conn{
		srv:       s,
		ws:        ws,
		view:      view,
		sessionID: m.SessionID,
		hello: &protocol.ServerHello{
			Status:      protocol.HandshakeOK,
			SessionID:   m.SessionID,
			ResumeToken: m.ResumeToken,
			Seq:         m.Seq,
			ServerTime:  uint64(time.Now().UnixMilli()),
			Resumed:     m.Resumed,
			Snapshot:    m.Snapshot,
		},
		logger: s.logger.With("session_id", m.SessionID, "view", m.View),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan work, s.config.EventQueueSize),
	}, nil
}

// reject sends an error ServerHello and closes the socket.
func (s *Server) reject(ws *websocket.Conn, status protocol.HandshakeStatus) {
	data, err := protocol.Encode(protocol.NewServerHelloError(status))
	if err != nil {
		return
	}
	deadline := time.Now().Add(s.config.WriteTimeout)
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return
	}
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, status.String()), deadline)
}

// serve sends the ServerHello and runs the connection until it closes.
func (c *conn) serve() {
	defer c.srv.release(c)

	if err := c.send(c.hello); err != nil {
		c.logger.Warn("failed to send server hello", "error", err)
		c.closeWith(nil)
		return
	}
	c.hello = nil
	c.logger.Debug("connection attached")

	c.wg.Add(2)
	go c.eventLoop()
	go c.writeLoop()
	if c.view.Subscribe != nil {
		c.wg.Add(1)
		go c.subscribe()
	}

	c.readLoop()
	c.closeWith(nil)
	c.wg.Wait()
	c.logger.Debug("connection closed",
		"explicit", c.explicit.Load(),
		"replaced", c.replaced.Load())
}

// readLoop reads frames until the connection fails, the client closes the
// session or a frame violates the protocol. Any frame refreshes the read
// deadline.
func (c *conn) readLoop() {
	timeout := c.srv.config.HeartbeatTimeout
	for {
		c.ws.SetReadDeadline(time.Now().Add(timeout))

		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			c.fail(&protocol.ProtocolError{Code: protocol.ErrInvalidFrame, Frame: protocol.FrameType(0xFF), Err: errTextMessage})
			return
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var pe *protocol.ProtocolError
			if !errors.As(err, &pe) {
				pe = &protocol.ProtocolError{Code: protocol.ErrInvalidFrame, Err: err}
			}
			c.fail(pe)
			return
		}

		switch m := msg.(type) {
		case *protocol.Event:
			if !c.enqueue(work{event: m}) {
				return
			}
		case *protocol.Control:
			if !c.control(m) {
				return
			}
		case *protocol.ClientHello:
			c.fail(&protocol.ProtocolError{Code: protocol.ErrInvalidFrame, Frame: protocol.FrameHandshake, Err: errDuplicateHello})
			return
		}
	}
}

// control handles a control message. It returns false when the connection
// should stop reading.
func (c *conn) control(m *protocol.Control) bool {
	switch m.Type {
	case protocol.ControlPing:
		if err := c.send(&protocol.Control{Type: protocol.ControlPong}); err != nil {
			return false
		}
	case protocol.ControlPong:
		// Liveness only; the read deadline is already refreshed.
	case protocol.ControlResyncRequest:
		return c.enqueue(work{resync: true})
	case protocol.ControlClose:
		c.explicit.Store(true)
		return false
	}
	return true
}

// enqueue hands w to the event loop, blocking while the queue is full.
func (c *conn) enqueue(w work) bool {
	select {
	case c.queue <- w:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// eventLoop runs events, pushes and resyncs one at a time, so frames for the
// session leave in processing order.
func (c *conn) eventLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case w := <-c.queue:
			if err := c.process(w); err != nil {
				c.logger.Debug("closing after failed write", "error", err)
				c.closeWith(nil)
				return
			}
		}
	}
}

// process runs one unit of work. It returns an error only when the
// connection can no longer be written to.
func (c *conn) process(w work) error {
	switch {
	case w.resync:
		snap, seq, err := c.srv.dispatcher.Snapshot(c.ctx, c.sessionID)
		if err != nil {
			return c.reportError(err)
		}
		return c.send(&protocol.SnapshotFrame{SessionID: c.sessionID, Seq: seq, Snapshot: snap})

	case w.push != nil:
		res, err := c.srv.dispatcher.Push(c.ctx, c.sessionID, w.push)
		return c.deliver(res, err)

	case w.event != nil:
		if w.event.SessionID != "" && w.event.SessionID != c.sessionID {
			c.logger.Warn("event for another session", "target", w.event.SessionID, "event", w.event.Name)
			err := c.send(protocol.NewFatalError(protocol.ErrSessionMismatch, w.event.SessionID))
			c.closeWith(&protocol.CloseMessage{Reason: protocol.CloseError, Message: protocol.ErrSessionMismatch.String()})
			return err
		}
		res, err := c.srv.dispatcher.Dispatch(c.ctx, dispatch.Event{
			SessionID: c.sessionID,
			Name:      w.event.Name,
			Payload:   live.Payload(w.event.Payload),
		})
		return c.deliver(res, err)
	}
	return nil
}

// deliver sends the outcome of a dispatched event or push.
func (c *conn) deliver(res *dispatch.Result, err error) error {
	if err != nil {
		return c.reportError(err)
	}
	if res.Empty() {
		return nil
	}
	return c.send(&protocol.PatchesFrame{SessionID: c.sessionID, Seq: res.Seq, Ops: res.Patch})
}

// reportError sends the error frame for a failed event. Fatal errors close
// the connection.
func (c *conn) reportError(err error) error {
	em := errorMessage(err)
	if em == nil {
		return nil
	}
	var he *dispatch.HandlerError
	if errors.As(err, &he) && he.Panic {
		c.logger.Error("handler panicked", "event", he.Event, "error", he.Err, "stack", string(he.Stack))
	} else {
		c.logger.Debug("event failed", "error", err)
	}

	if sendErr := c.send(em); sendErr != nil {
		return sendErr
	}
	if em.Fatal {
		c.closeWith(&protocol.CloseMessage{Reason: protocol.CloseSessionExpired, Message: em.Message})
	}
	return nil
}

// subscribe runs the view's subscription for as long as the connection
// lives. Its mutations go through the event loop.
func (c *conn) subscribe() {
	defer c.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("subscription panicked", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	c.view.Subscribe(c.ctx, func(m live.Mutation) error {
		if !c.enqueue(work{push: m}) {
			return c.ctx.Err()
		}
		return nil
	})
}

// writeLoop pings the client every HeartbeatInterval.
func (c *conn) writeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.srv.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(&protocol.Control{Type: protocol.ControlPing}); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.closeWith(nil)
				return
			}
		}
	}
}

// fail reports a protocol violation and closes the connection.
func (c *conn) fail(pe *protocol.ProtocolError) {
	c.logger.Warn("protocol error", "error", pe)
	c.send(pe.Message())
	c.closeWith(&protocol.CloseMessage{Reason: protocol.CloseError, Message: pe.Code.String()})
}

// send writes one framed message.
func (c *conn) send(msg any) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.srv.config.WriteTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// closeWith stops the connection once. A non-nil cm is sent to the client
// as a ControlClose first.
func (c *conn) closeWith(cm *protocol.CloseMessage) {
	c.closeOnce.Do(func() {
		c.cancel()
		if cm != nil {
			c.send(&protocol.Control{Type: protocol.ControlClose, Payload: cm})
		}
		deadline := time.Now().Add(c.srv.config.WriteTimeout)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.ws.Close()
	})
}
