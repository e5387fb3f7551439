package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"outpost.ai/internal/protocol"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second
)

// stream subscribes a websocket to one scene. The current snapshot is sent
// first; later writes to the scene and relayed commands follow.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	sceneID := chi.URLParam(r, "sceneID")
	{
		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		_, err := s.store.Scene(ctx, sceneID)
		cancel()
		if err != nil {
			s.storeError(w, err)
			return
		}
	}
	compressed := r.URL.Query().Get("encoding") == "zstd"

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.subscribe(sceneID, compressed, s.cfg.StreamQueue)
	defer s.hub.unsubscribe(sceneID, sub)

	// Read after subscribing so no write to the scene is missed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc, err := s.store.Scene(ctx, sceneID)
	if err != nil {
		s.log.Printf("stream %s: %v", sceneID, err)
		return
	}
	first, err := protocol.NewSceneFrame(sc)
	if err != nil {
		s.log.Printf("stream %s: %v", sceneID, err)
		return
	}
	sub.sendFrame(first)

	// Writer goroutine.
	go func() {
		ping := time.NewTicker(s.cfg.PingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					_ = conn.Close()
					return
				}
			case f := <-sub.out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(f.kind, f.data); err != nil {
					cancel()
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// Reader loop. Clients send nothing; reading surfaces the close.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			return
		}
	}
}
