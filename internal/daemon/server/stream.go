package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/push"
)

// apiStateUpdate matches the daemon.StateUpdate type for SSE streaming.
type apiStateUpdate struct {
	UpdateType string              `json:"update_type"`
	Source     string              `json:"source,omitempty"`
	SessionID  string              `json:"session_id,omitempty"`
	Sessions   []store.SessionInfo `json:"sessions,omitempty"`
	Sync       *codec.SyncMessage  `json:"sync,omitempty"`
	Signal     *store.SignalEvent  `json:"signal,omitempty"`
	ConfigFile string              `json:"config_file,omitempty"`
}

// convertToAPIUpdate converts internal store.Update to the public API format.
func convertToAPIUpdate(u store.Update) *apiStateUpdate {
	out := &apiStateUpdate{
		UpdateType: string(u.Type),
		Source:     u.Source,
		SessionID:  u.SessionID,
	}
	switch u.Type {
	case store.UpdateSessions:
		if infos, ok := u.Payload.([]store.SessionInfo); ok {
			out.Sessions = infos
		}
	case store.UpdateChanges:
		msg, ok := u.Payload.(codec.SyncMessage)
		if !ok {
			return nil
		}
		out.Sync = &msg
	case store.UpdateSignals:
		event, ok := u.Payload.(store.SignalEvent)
		if !ok {
			return nil
		}
		out.Signal = &event
	case store.UpdateConfigReload:
		if file, ok := u.Payload.(string); ok {
			out.ConfigFile = file
		}
	default:
		return nil
	}
	return out
}

// handleStream provides Server-Sent Events (SSE) for real-time updates.
// ?session=<id> restricts session-scoped updates to one session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store()
	if !ok {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	// Ensure the connection supports flushing
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	filter := r.URL.Query().Get("session")

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe to store updates
	ch := st.Subscribe()
	defer st.Unsubscribe(ch)

	// Send initial ping to confirm connection
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected")

	// Send current sessions immediately so client has data right away
	initial := &apiStateUpdate{UpdateType: "initial", Sessions: st.Infos()}
	if data, err := json.Marshal(initial); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case update, ok := <-ch:
			if !ok {
				return
			}
			if filter != "" && update.SessionID != "" && update.SessionID != filter {
				continue
			}
			apiUpdate := convertToAPIUpdate(update)
			if apiUpdate == nil {
				continue
			}

			data, err := json.Marshal(apiUpdate)
			if err != nil {
				s.logger.WithError(err).Error("Failed to marshal update")
				continue
			}
			// SSE format: "data: {json}\n\n"
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handlePush serves the framed websocket channel of one session. The client
// first receives a snapshot, then one sync envelope per flush, and may send
// ops envelopes that are applied atomically.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	st, _ := s.store()
	conn, err := push.Upgrade(w, r, s.pushOptions)
	if err != nil {
		s.logger.WithError(err).Debug("Push upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.WithField("session", sess.ID)
	if s.metrics != nil {
		s.metrics.PushClients.Inc()
		defer s.metrics.PushClients.Dec()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	// Subscribe before the snapshot so no flush falls between the two.
	sub := st.Subscribe()
	defer st.Unsubscribe(sub)

	tree, syncID := sess.Snapshot()
	if err := sendEnvelope(ctx, conn, codec.Envelope{Type: codec.EnvelopeSnapshot, SyncID: syncID, Tree: tree}); err != nil {
		log.WithError(err).Debug("Push snapshot failed")
		return
	}
	log.Debug("Push client connected")

	go s.readOps(ctx, conn, sess)

	for {
		select {
		case <-ctx.Done():
			log.Debug("Push client disconnected")
			return
		case u, ok := <-sub:
			if !ok {
				return
			}
			if u.Type == store.UpdateSessions {
				if _, err := st.Session(sess.ID); err != nil {
					log.Debug("Session closed; dropping push client")
					return
				}
				continue
			}
			if u.Type != store.UpdateChanges || u.SessionID != sess.ID {
				continue
			}
			msg, ok := u.Payload.(codec.SyncMessage)
			if !ok || msg.SyncID <= syncID {
				continue
			}
			if err := sendEnvelope(ctx, conn, codec.SyncEnvelope(msg)); err != nil {
				log.WithError(err).Debug("Push send failed")
				return
			}
		}
	}
}

func (s *Server) readOps(ctx context.Context, conn *push.Conn, sess *store.Session) {
	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		var env codec.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Type != codec.EnvelopeOps {
			reply := codec.Envelope{Type: codec.EnvelopeError, Error: &codec.ErrorBody{
				Code:    string(errors.ErrCodeMalformedJSON),
				Message: "expected an ops envelope",
			}}
			if sendEnvelope(ctx, conn, reply) != nil {
				return
			}
			continue
		}

		reply := codec.Envelope{Type: codec.EnvelopeAck}
		created, err := sess.Apply(env.Ops)
		if err != nil {
			reply = codec.Envelope{Type: codec.EnvelopeError, Error: errorBody(err)}
		} else {
			reply.Created = created
		}
		if sendEnvelope(ctx, conn, reply) != nil {
			return
		}
	}
}

func sendEnvelope(ctx context.Context, conn *push.Conn, env codec.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Send(ctx, string(data))
}
