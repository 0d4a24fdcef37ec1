package serve

import (
	"context"
	"encoding/json"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voltworks/aftercare/pkg/safety"
	"github.com/voltworks/aftercare/pkg/session"
)

type chatRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id"`
	// CustomerInfo lets the caller push attributes gathered out of band
	// (order lookup, parsed photos); merged into the session before the turn.
	CustomerInfo map[string]any `json:"customer_info,omitempty"`
}

type chatResponse struct {
	Response     string `json:"response"`
	CurrentStep  int    `json:"current_step"`
	InfoComplete bool   `json:"info_complete"`
}

// handleChat runs one conversation turn: merge overrides, log the user
// message, gate on the collector, then hand over to the flow engine.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	lock := s.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	st, err := s.store.Load(req.SessionID)
	if err != nil {
		s.logger.Error("load session", zap.String("session", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load session failed")
		return
	}

	st.MergeInfo(req.CustomerInfo)
	if req.Message != "" {
		st.Append(session.RoleUser, req.Message)
	}

	reply := s.turn(r.Context(), st)

	if err := s.store.Save(st); err != nil {
		s.logger.Error("save session", zap.String("session", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "save session failed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:     reply,
		CurrentStep:  st.Cursor,
		InfoComplete: st.InfoComplete,
	})
}

// turn is the supervisor routing: terminal sessions re-surface their last
// reply, incomplete info goes to the collector, everything else to the flow
// engine.
func (s *Server) turn(ctx context.Context, st *session.State) string {
	// Terminal flows stay terminal. A new flow needs a new session id.
	if st.Result.Terminal() {
		for i := len(st.Messages) - 1; i >= 0; i-- {
			if st.Messages[i].Role == session.RoleAssistant {
				reply := st.Messages[i].Text
				st.Append(session.RoleAssistant, reply)
				return reply
			}
		}
	}

	// Collection gate. Once the session has been marked complete the gate
	// stays open; the collector only runs while fields are outstanding.
	if !st.InfoComplete {
		reply, complete := s.schema.Respond(st.CustomerInfo)
		st.InfoComplete = complete
		// Logging the reply before the flow runs matters: the engine
		// classifies the next turn as a fresh entry because the last
		// logged message is this assistant line, not the user's.
		st.Append(session.RoleAssistant, reply)
		if !complete {
			return reply
		}
	}

	return s.engine.Step(ctx, st)
}

// handleSession returns the raw session snapshot for observability.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	st, err := s.store.Load(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load session failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type reportRequest struct {
	SessionID string         `json:"session_id,omitempty"`
	Specs     map[string]any `json:"specs,omitempty"`
}

// handleReport computes the weakest-link safety report, either from explicit
// specs or from a session's collected info. Deliberately decoupled from the
// step machine: the SOP prompts stay static, the bottleneck analysis lives
// here.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	info := req.Specs
	if info == nil && req.SessionID != "" {
		st, err := s.store.Load(req.SessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load session failed")
			return
		}
		info = st.CustomerInfo
	}
	if info == nil {
		writeError(w, http.StatusBadRequest, "specs or session_id is required")
		return
	}

	specs, err := safety.FromInfo(info)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	result, err := safety.Compute(specs)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
