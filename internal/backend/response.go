package backend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"outpost.ai/internal/persistence/sqlitestore"
	"outpost.ai/internal/protocol"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.ErrorBody{Code: code, Message: msg})
}

// decodeBody reads one JSON value. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	errorJSON(w, http.StatusBadRequest, protocol.CodeBadRequest, "invalid json: "+err.Error())
	return false
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, sqlitestore.ErrNotFound) {
		errorJSON(w, http.StatusNotFound, protocol.CodeNotFound, err.Error())
		return
	}
	s.log.Printf("store: %v", err)
	errorJSON(w, http.StatusInternalServerError, protocol.CodeInternal, "internal error")
}
