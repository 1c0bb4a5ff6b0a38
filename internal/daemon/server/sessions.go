package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/signals"
	"github.com/grovetools/statesync/pkg/statetree"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// TreeResponse is the body of GET /api/sessions/{id}/tree.
type TreeResponse struct {
	SyncID uint64                  `json:"sync_id"`
	Tree   *statetree.NodeSnapshot `json:"tree"`
}

// RPCRequest is the body of POST /api/sessions/{id}/rpc.
type RPCRequest struct {
	Ops []codec.Operation `json:"ops"`
}

// RPCResponse lists the nodes created by an RPC request.
type RPCResponse struct {
	Created []int `json:"created"`
}

// RenderRequest is the body of POST /api/sessions/{id}/render.
type RenderRequest struct {
	Template string `json:"template"`
}

// RenderResponse carries rendered markup.
type RenderResponse struct {
	HTML string `json:"html"`
}

// SignalsResponse describes a session's signal tree.
type SignalsResponse struct {
	Value     any `json:"value"`
	Submitted any `json:"submitted"`
	Nodes     int `json:"nodes"`
	Pending   int `json:"pending"`
}

// SignalResult is the outcome of a committed signal command.
type SignalResult struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON body. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read request body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeMalformedJSON, "invalid request body")
	}
	return nil
}

// handleListSessions returns all sessions as JSON.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store()
	if !ok {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st.Infos())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store()
	if !ok {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := st.CreateSession(req.ID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store()
	if !ok {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	drop := r.URL.Query().Get("drop") == "true"
	if err := st.CloseSession(r.PathValue("id"), drop); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	tree, syncID := sess.Snapshot()
	writeJSON(w, http.StatusOK, TreeResponse{SyncID: syncID, Tree: tree})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	var req RPCRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := sess.Apply(req.Ops)
	if err != nil {
		s.logger.WithError(err).WithField("session", sess.ID).Debug("RPC rejected")
		writeError(w, err)
		return
	}
	if created == nil {
		created = []int{}
	}
	writeJSON(w, http.StatusOK, RPCResponse{Created: created})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	var req RenderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := sess.Render(req.Template)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RenderResponse{HTML: out})
}

func (s *Server) handleGetSignals(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	confirmed := sess.Signals().Confirmed()
	writeJSON(w, http.StatusOK, SignalsResponse{
		Value:     signals.RootValue(confirmed),
		Submitted: signals.RootValue(sess.Signals().Submitted()),
		Nodes:     confirmed.Len(),
		Pending:   sess.Info().PendingSignals,
	})
}

func (s *Server) handleCommitSignal(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read request body"))
		return
	}
	cmd, err := signals.UnmarshalCommand(data)
	if err != nil {
		writeError(w, err)
		return
	}
	if cmd.CommandID() == "" {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "signal command requires an id"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	result, err := sess.CommitSignal(ctx, cmd)
	if err != nil {
		writeError(w, errors.Wrap(err, errors.ErrCodeInternal, "signal command was not confirmed"))
		return
	}

	resp := SignalResult{ID: cmd.CommandID().String(), Accepted: result.Accepted()}
	if reject, ok := result.(signals.Reject); ok {
		resp.Reason = reject.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}
