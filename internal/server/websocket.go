package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dyluth/rubricwatch/internal/reconcile"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket streams snapshots to one viewer. Without ?group the viewer
// joins the session audience and sees every group; with ?group=N it joins
// that group's room and first receives the group's current snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	group := -1
	if g := r.URL.Query().Get("group"); g != "" {
		n, err := strconv.Atoi(g)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: invalid group number %q", reconcile.ErrInvalidRequest, g))
			return
		}
		group = n
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before upgrading so nothing broadcast after the resync is missed.
	var sub *checklist.SnapshotSubscription
	var err error
	if group >= 0 {
		sub, err = s.subs.SubscribeGroup(ctx, sessionID, group)
	} else {
		sub, err = s.subs.SubscribeSession(ctx, sessionID)
	}
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", reconcile.ErrStoreRead, err))
		return
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] Failed to upgrade websocket: %v", err)
		return
	}
	defer ws.Close()

	s.metrics.AddViewers(ctx, 1)
	defer s.metrics.AddViewers(context.Background(), -1)

	go readPump(ws, cancel)

	if group >= 0 {
		snapshot, err := s.engine.GetSnapshot(ctx, sessionID, group)
		if err != nil {
			log.Printf("[Server] Resync of %s-%d failed: %v", sessionID, group, err)
		} else if err := writeSnapshot(ws, snapshot); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return

		case snapshot, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSnapshot(ws, snapshot); err != nil {
				return
			}

		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			log.Printf("[Server] Viewer subscription error for session %s: %v", sessionID, err)

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards viewer messages and cancels the stream when the viewer goes away.
func readPump(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func writeSnapshot(ws *websocket.Conn, snapshot *checklist.Snapshot) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(snapshot); err != nil {
		log.Printf("[Server] Failed to write snapshot to viewer: %v", err)
		return err
	}
	return nil
}
