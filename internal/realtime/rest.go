package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"agentboard/internal/session"
)

// REST collaborator surface: the task board reads session state and requests
// termination here. Creation has no endpoint; sessions come into being on
// first attach.

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.List()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.registry.Get(id)
	if err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.registry.Terminate(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"terminating"}`))
}
