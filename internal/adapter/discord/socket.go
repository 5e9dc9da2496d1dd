package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// maxFrameBytes bounds one gateway message. GUILD_CREATE payloads for large
// guilds are the biggest frames we accept.
const maxFrameBytes = 16 << 20

// socket maintains one gateway websocket connection: hello/identify
// handshake, heartbeating, and dispatch of the events the session cares
// about. It reconnects with backoff until its context is cancelled.
type socket struct {
	url     string
	token   string
	session *Session
	log     *slog.Logger

	seq   atomic.Int64
	ready chan struct{}
}

func newSocket(url, token string, session *Session, log *slog.Logger) *socket {
	return &socket{
		url:     url,
		token:   token,
		session: session,
		log:     log,
		ready:   make(chan struct{}),
	}
}

// run connects and blocks until the first READY, then keeps the connection
// alive in the background. A connect failure before READY is returned to the
// caller; later failures reconnect with backoff.
func (s *socket) run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		backoff := time.Second
		for {
			err := s.connectOnce(ctx)
			if ctx.Err() != nil {
				return
			}

			if !s.becameReady() {
				// First connection never reached READY; caller handles it.
				errCh <- err
				return
			}

			s.session.handleDisconnect()
			s.log.Warn("gateway disconnected, reconnecting", "error", err, "backoff", backoff)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
		}
	}()

	select {
	case <-s.ready:
		return nil
	case err := <-errCh:
		return fmt.Errorf("gateway connect: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// becameReady reports whether READY has ever been reached on this socket.
func (s *socket) becameReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// connectOnce runs one full connection lifecycle and returns when it drops.
func (s *socket) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	hello, err := s.readFrame(ctx, conn)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.Data, &hd); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	if err := s.writeFrame(ctx, conn, gatewayFrame{
		Op: opIdentify,
		Data: mustMarshal(identifyData{
			Token:   s.token,
			Intents: intentGuilds | intentGuildMembers,
			Properties: identifyProperties{
				OS:      runtime.GOOS,
				Browser: "guildmirror",
				Device:  "guildmirror",
			},
		}),
	}); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeat(hbCtx, conn, time.Duration(hd.HeartbeatInterval)*time.Millisecond)

	for {
		frame, err := s.readFrame(ctx, conn)
		if err != nil {
			return err
		}
		if frame.Seq != nil {
			s.seq.Store(*frame.Seq)
		}

		switch frame.Op {
		case opDispatch:
			s.dispatch(ctx, frame)
		case opHeartbeat:
			if err := s.sendHeartbeat(ctx, conn); err != nil {
				return err
			}
		case opReconnect, opInvalidSession:
			return errors.New("server requested reconnect")
		case opHeartbeatAck:
			// nothing to do
		}
	}
}

// dispatch routes one gateway event to the session.
func (s *socket) dispatch(ctx context.Context, frame gatewayFrame) {
	switch frame.Type {
	case "READY":
		var d readyData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			s.log.Error("decode READY failed", "error", err)
			return
		}
		s.session.handleReady(d)
		select {
		case <-s.ready:
		default:
			close(s.ready)
		}
	case "GUILD_CREATE":
		var d guildCreateData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			s.log.Error("decode GUILD_CREATE failed", "error", err)
			return
		}
		s.session.handleGuildCreate(ctx, d)
	case "GUILD_DELETE":
		var d guildDeleteData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			s.log.Error("decode GUILD_DELETE failed", "error", err)
			return
		}
		s.session.handleGuildDelete(d)
	case "GUILD_MEMBER_UPDATE":
		var d memberUpdateData
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			s.log.Error("decode GUILD_MEMBER_UPDATE failed", "error", err)
			return
		}
		s.session.handleMemberUpdate(ctx, d)
	}
}

func (s *socket) heartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendHeartbeat(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (s *socket) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	seq := s.seq.Load()
	var data json.RawMessage
	if seq > 0 {
		data = mustMarshal(seq)
	} else {
		data = json.RawMessage("null")
	}
	return s.writeFrame(ctx, conn, gatewayFrame{Op: opHeartbeat, Data: data})
}

func (s *socket) readFrame(ctx context.Context, conn *websocket.Conn) (gatewayFrame, error) {
	var frame gatewayFrame
	_, data, err := conn.Read(ctx)
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

func (s *socket) writeFrame(ctx context.Context, conn *websocket.Conn, frame gatewayFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
