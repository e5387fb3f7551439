package backend

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/grid"
)

const storeTimeout = 5 * time.Second

func (s *Server) getScene(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	sc, err := s.store.Scene(ctx, chi.URLParam(r, "sceneID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// putScene replaces a whole scene and pushes it to its subscribers.
func (s *Server) putScene(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		errorJSON(w, http.StatusBadRequest, protocol.CodeBadRequest, err.Error())
		return
	}
	sc, err := protocol.DecodeScene(raw)
	if err != nil {
		code := protocol.CodeBadRequest
		if errors.Is(err, protocol.ErrMalformedScene) {
			code = protocol.CodeMalformedScene
		}
		errorJSON(w, http.StatusBadRequest, code, err.Error())
		return
	}
	sc.ID = chi.URLParam(r, "sceneID")

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := s.store.PutScene(ctx, sc); err != nil {
		s.storeError(w, err)
		return
	}
	s.broadcastScene(ctx, sc.ID)
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) putPosition(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var req protocol.PositionUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Position) != 2 || !finite(req.Position[0]) || !finite(req.Position[1]) {
		errorJSON(w, http.StatusBadRequest, protocol.CodeBadRequest, "position must be two finite numbers")
		return
	}
	pos := [2]float64{req.Position[0], req.Position[1]}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	sceneID, err := s.store.AgentScene(ctx, agentID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	sc, err := s.store.Scene(ctx, sceneID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	idx := sceneIndex(sc)
	p := grid.Vec2{X: pos[0], Y: pos[1]}
	if !idx.InBounds(p) {
		errorJSON(w, http.StatusUnprocessableEntity, protocol.CodeInvalidTarget, "position outside the scene")
		return
	}
	if idx.IsBlocked(p.X, p.Y) {
		errorJSON(w, http.StatusConflict, protocol.CodeBlocked, "position inside a building")
		return
	}

	at := s.now().UTC()
	if err := s.store.UpdatePosition(ctx, agentID, pos, at); err != nil {
		s.storeError(w, err)
		return
	}
	s.broadcastScene(ctx, sceneID)
	writeJSON(w, http.StatusOK, protocol.PositionAck{AgentID: agentID, Position: req.Position, UpdatedAt: at})
}

// maintainEnergy restores the agent's energy and suggests the cell beside
// the nearest charger.
func (s *Server) maintainEnergy(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	sceneID, err := s.store.AgentScene(ctx, agentID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.store.SetEnergy(ctx, agentID, FullEnergy); err != nil {
		s.storeError(w, err)
		return
	}
	sc, err := s.store.Scene(ctx, sceneID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	rel := relocationFor(sc, agentID)
	if rel == nil {
		s.log.Printf("maintain-energy %s: no free charger cell in %s", agentID, sceneID)
	}
	s.broadcastScene(ctx, sceneID)
	writeJSON(w, http.StatusOK, protocol.MaintainEnergyResult{Scene: &sc, Relocation: rel})
}

func (s *Server) postAction(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var entry protocol.ActionLog
	if !decodeBody(w, r, &entry) {
		return
	}
	if entry.ActionType == "" || entry.ResultStatus == "" {
		errorJSON(w, http.StatusBadRequest, protocol.CodeBadRequest, "actionType and resultStatus are required")
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = s.now().UTC()
	}
	s.store.AppendAction(agentID, entry)
	if s.journal != nil {
		if err := s.journal.Append(agentID, entry); err != nil {
			s.log.Printf("journal %s: %v", agentID, err)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": entry.ID})
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > 500 {
		limit = 500
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	out, err := s.store.Actions(ctx, chi.URLParam(r, "agentID"), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// postCommand relays a command to every stream subscribed to the agent's scene.
func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var req struct {
		Action string `json:"action"`
		Origin string `json:"origin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Action == "" {
		errorJSON(w, http.StatusBadRequest, protocol.CodeBadRequest, "action is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	sceneID, err := s.store.AgentScene(ctx, agentID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	frame, err := protocol.NewCommandFrame(protocol.CommandEvent{AgentID: agentID, Action: req.Action, Origin: req.Origin})
	if err != nil {
		s.storeError(w, err)
		return
	}
	n := s.hub.Broadcast(sceneID, frame)
	writeJSON(w, http.StatusAccepted, map[string]int{"delivered": n})
}

func (s *Server) broadcastScene(ctx context.Context, sceneID string) {
	if s.hub.Subscribers(sceneID) == 0 {
		return
	}
	sc, err := s.store.Scene(ctx, sceneID)
	if err != nil {
		s.log.Printf("broadcast %s: %v", sceneID, err)
		return
	}
	frame, err := protocol.NewSceneFrame(sc)
	if err != nil {
		s.log.Printf("broadcast %s: %v", sceneID, err)
		return
	}
	s.hub.Broadcast(sceneID, frame)
}

func sceneIndex(sc protocol.Scene) *grid.Index {
	rects := make([]grid.Rect, 0, len(sc.Buildings))
	for _, b := range sc.Buildings {
		rects = append(rects, grid.Rect{X: b.Rect[0], Y: b.Rect[1], W: b.Rect[2], H: b.Rect[3]})
	}
	return grid.New(sc.Dimensions.Cols, sc.Dimensions.Rows, rects)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

