package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/virtcam/virtcamd/internal/broadcast"
	"github.com/virtcam/virtcamd/internal/events"
	"github.com/virtcam/virtcamd/internal/messages"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// handleWS upgrades the connection and binds it to the channel named by
// the route.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	channelName, ok := channelRoutes[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	channel := s.options.Registry.Channel(channelName)
	sub, err := channel.Attach()
	if err != nil {
		s.logger.Warn("Attach rejected", "channel", channelName, "error", err)
		conn.Close()
		return
	}

	s.options.EventBus.Publish(events.ViewerAttachedEvent{
		Channel:    channelName,
		RemoteAddr: r.RemoteAddr,
	})
	s.logger.Info("Viewer attached", "channel", channelName, "remote", r.RemoteAddr)

	sess := &session{
		conn:    conn,
		channel: channel,
		sub:     sub,
		bus:     s.options.EventBus,
		remote:  r.RemoteAddr,
		logger:  s.logger.With("channel", channelName, "remote", r.RemoteAddr),
	}
	go sess.run()
}

// session forwards one subscription to one websocket connection. Its
// lifetime is bounded by the connection: a read error, write error, or
// subscription end all terminate it, and termination always detaches the
// subscription so the publisher never notices the viewer was slow or gone.
type session struct {
	conn    *websocket.Conn
	channel *broadcast.Channel
	sub     *broadcast.Subscription
	bus     *events.Bus
	remote  string
	logger  *slog.Logger

	writeMu sync.Mutex

	reasonMu sync.Mutex
	reason   string
}

// setReason records why the session is terminating. The first failure
// wins; a later orderly shutdown never masks it.
func (sess *session) setReason(reason string) {
	sess.reasonMu.Lock()
	if sess.reason == "" {
		sess.reason = reason
	}
	sess.reasonMu.Unlock()
}

func (sess *session) detachReason() string {
	sess.reasonMu.Lock()
	defer sess.reasonMu.Unlock()
	if sess.reason == "" {
		return "closed"
	}
	return sess.reason
}

func (sess *session) run() {
	ctx, cancel := context.WithCancel(context.Background())

	defer func() {
		cancel()
		sess.channel.Detach(sess.sub)
		sess.conn.Close()
		reason := sess.detachReason()
		sess.bus.Publish(events.ViewerDetachedEvent{
			Channel:    sess.channel.Name(),
			RemoteAddr: sess.remote,
			Reason:     reason,
		})
		sess.logger.Info("Viewer detached", "reason", reason)
	}()

	sess.conn.SetReadLimit(1 << 16)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reader: viewers send nothing meaningful, but reading drives pong
	// handling and surfaces disconnects promptly
	go func() {
		for {
			if _, _, err := sess.conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					sess.setReason("read_error")
				}
				cancel()
				return
			}
		}
	}()

	// Keepalive pings
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sess.write(websocket.PingMessage, nil); err != nil {
					sess.setReason("write_error")
					cancel()
					return
				}
			}
		}
	}()

	// Forward loop: one delivered message per outgoing frame
	for {
		msg, ok := sess.sub.Next(ctx)
		if !ok {
			return
		}

		data, err := messages.Encode(msg)
		if err != nil {
			sess.logger.Error("Failed to encode message", "error", err)
			continue
		}

		if err := sess.write(websocket.TextMessage, data); err != nil {
			sess.setReason("write_error")
			sess.logger.Warn("Forward failed", "error", err)
			return
		}
	}
}

func (sess *session) write(messageType int, data []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sess.conn.WriteMessage(messageType, data)
}
