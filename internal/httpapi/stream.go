package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/interflow/orchestrator/internal/streaming"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 20 * time.Second
	writeWait    = 10 * time.Second
)

func (s *Server) upgrader() *websocket.Upgrader {
	policy := newOriginPolicy(s.deps.CORSOrigins)
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || policy.allows(origin)
		},
	}
}

// stream sends workflow events over a websocket. ?last_event_id=N replays retained
// events after N first; ?types=a,b filters by event type.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeDetail(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	wf := chi.URLParam(r, "id")

	typeFilter := map[string]struct{}{}
	if v := r.URL.Query().Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				typeFilter[t] = struct{}{}
			}
		}
	}
	wanted := func(ev streaming.Event) bool {
		if len(typeFilter) == 0 {
			return true
		}
		_, ok := typeFilter[ev.Type]
		return ok
	}

	replay := false
	var lastID uint64
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "last_event_id must be a non-negative integer")
			return
		}
		replay, lastID = true, n
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := s.deps.Hub.Subscribe(wf, 256)
	defer s.deps.Hub.Unsubscribe(wf, ch)

	if replay {
		for _, ev := range s.deps.Hub.ReplaySince(wf, lastID) {
			lastID = ev.Seq
			if !wanted(ev) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// reader pump, discards client messages
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			// already sent during replay
			if ev.Seq <= lastID || !wanted(ev) {
				continue
			}
			lastID = ev.Seq
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
