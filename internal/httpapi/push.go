package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/airspace-sentinel/internal/logging"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

const writeWait = 10 * time.Second

// errSubscriberWrite ends a single push connection; other subscribers and
// the publishing loop are unaffected.
var errSubscriberWrite = errors.New("httpapi: subscriber write failed")

// handleWebSocket pushes every snapshot, starting with the latest one, as a
// JSON text frame. Inbound frames are read and discarded to observe closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), s.log)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	sub := s.publisher.Subscribe()
	defer sub.Close()

	peerGone := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	log.Info(r.Context(), "websocket subscriber connected")
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				log.Info(r.Context(), "websocket subscriber dropped",
					logging.Err(fmt.Errorf("%w: %v", errSubscriberWrite, err)))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Info(r.Context(), "websocket subscriber dropped",
					logging.Err(fmt.Errorf("%w: %v", errSubscriberWrite, err)))
				return
			}
		case <-peerGone:
			log.Info(r.Context(), "websocket subscriber disconnected")
			return
		}
	}
}

// handleEvents streams snapshots as Server-Sent Events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), s.log)
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Warn(r.Context(), "streaming unsupported", logging.Err(err))
		return
	}

	sub := s.publisher.Subscribe()
	defer sub.Close()

	keepalive := time.NewTicker(s.pingInterval)
	defer keepalive.Stop()

	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, snap); err != nil {
				log.Info(r.Context(), "sse subscriber dropped", logging.Err(err))
				return
			}
			if err := rc.Flush(); err != nil {
				log.Info(r.Context(), "sse subscriber dropped",
					logging.Err(fmt.Errorf("%w: %v", errSubscriberWrite, err)))
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, snap *model.StreamSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", snap.Sequence, err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Sequence, payload); err != nil {
		return fmt.Errorf("%w: %v", errSubscriberWrite, err)
	}
	return nil
}
