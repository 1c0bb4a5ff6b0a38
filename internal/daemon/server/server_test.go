package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/statesync/internal/daemon/engine"
	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/push"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st := store.New()
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	srv := New(testLogger())
	srv.SetEngine(engine.New(st, metrics, testLogger()))
	srv.SetMetrics(reg, metrics)
	srv.SetPushOptions(push.DefaultOptions())
	srv.SetRunningConfig(&RunningConfig{FlushInterval: 50 * time.Millisecond, SignalMode: "sync"})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		st.Close()
	})
	return ts, st
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createSession(t *testing.T, baseURL string) store.SessionInfo {
	t.Helper()
	var info store.SessionInfo
	status := doJSON(t, http.MethodPost, baseURL+"/api/sessions", CreateSessionRequest{Name: "demo"}, &info)
	require.Equal(t, http.StatusCreated, status)
	return info
}

func intPtr(i int) *int { return &i }

func TestHealthAndConfig(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg RunningConfig
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/config", nil, &cfg))
	assert.Equal(t, "sync", cfg.SignalMode)
	assert.Equal(t, 50*time.Millisecond, cfg.FlushInterval)
}

func TestSessionLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	info := createSession(t, ts.URL)
	assert.Equal(t, "demo", info.Name)

	var list []store.SessionInfo
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/sessions", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)

	assert.Equal(t, http.StatusNoContent, doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+info.ID, nil, nil))

	var body codec.ErrorBody
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+info.ID, nil, &body))
	assert.Equal(t, "SESSION_NOT_FOUND", body.Code)
}

func TestCreateSessionWithoutBody(t *testing.T) {
	ts, _ := newTestServer(t)

	var info store.SessionInfo
	assert.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/api/sessions", nil, &info))
	assert.NotEmpty(t, info.ID)
}

func TestRPCAndTree(t *testing.T) {
	ts, _ := newTestServer(t)
	info := createSession(t, ts.URL)
	base := ts.URL + "/api/sessions/" + info.ID

	var rpc RPCResponse
	status := doJSON(t, http.MethodPost, base+"/rpc", RPCRequest{Ops: []codec.Operation{
		{Op: codec.OpPut, Node: 1, Key: "name", Value: json.RawMessage(`"World"`)},
		{Op: codec.OpCreate, Node: 1, Key: "child"},
	}}, &rpc)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []int{2}, rpc.Created)

	var tree TreeResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, base+"/tree", nil, &tree))
	require.NotNil(t, tree.Tree)
	assert.Equal(t, 1, tree.Tree.ID)
	assert.Equal(t, "World", tree.Tree.Properties["name"])

	var html RenderResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, base+"/render",
		RenderRequest{Template: `<b>Hi {{name}}</b>`}, &html))
	assert.Equal(t, "<b>Hi World</b>", html.HTML)
}

func TestRPCRejectsInvalidOperations(t *testing.T) {
	ts, _ := newTestServer(t)
	info := createSession(t, ts.URL)
	base := ts.URL + "/api/sessions/" + info.ID

	var body codec.ErrorBody
	status := doJSON(t, http.MethodPost, base+"/rpc", RPCRequest{Ops: []codec.Operation{
		{Op: codec.OpPut, Node: 1, Key: "kept", Value: json.RawMessage(`1`)},
		{Op: codec.OpListRemove, Node: 1, Key: "items", Index: intPtr(3)},
	}}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INDEX_OUT_OF_RANGE", body.Code)

	var tree TreeResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, base+"/tree", nil, &tree))
	assert.Empty(t, tree.Tree.Properties)

	req, err := http.NewRequest(http.MethodPost, base+"/rpc", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommitSignal(t *testing.T) {
	ts, _ := newTestServer(t)
	info := createSession(t, ts.URL)
	base := ts.URL + "/api/sessions/" + info.ID

	var result SignalResult
	status := doJSON(t, http.MethodPost, base+"/signals",
		json.RawMessage(`{"type":"set","id":"01ARZ3NDEKTSV4RRFFQ69G5FAV","target":"00000000000000000000000000","value":42}`),
		&result)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, result.Accepted)

	var signals SignalsResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, base+"/signals", nil, &signals))
	assert.Equal(t, float64(42), signals.Value)
	assert.Equal(t, 0, signals.Pending)

	var body codec.ErrorBody
	status = doJSON(t, http.MethodPost, base+"/signals", json.RawMessage(`{"type":"bogus"}`), &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNKNOWN_COMMAND", body.Code)
}

func TestStreamDeliversSessionUpdates(t *testing.T) {
	ts, st := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan apiStateUpdate, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var u apiStateUpdate
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &u) == nil {
				events <- u
			}
		}
		close(events)
	}()

	initial := <-events
	assert.Equal(t, "initial", initial.UpdateType)

	sess, err := st.CreateSession("", "streamed")
	require.NoError(t, err)

	u := <-events
	assert.Equal(t, string(store.UpdateSessions), u.UpdateType)
	require.Len(t, u.Sessions, 1)
	assert.Equal(t, sess.ID, u.Sessions[0].ID)

	msgs, err := sess.Flush()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	st.ApplyUpdate(store.Update{Type: store.UpdateChanges, SessionID: sess.ID, Payload: msgs[0]})

	u = <-events
	assert.Equal(t, string(store.UpdateChanges), u.UpdateType)
	require.NotNil(t, u.Sync)
	assert.Equal(t, uint64(1), u.Sync.SyncID)
}

func receiveEnvelope(t *testing.T, ctx context.Context, conn *push.Conn) codec.Envelope {
	t.Helper()
	raw, err := conn.Receive(ctx)
	require.NoError(t, err)
	var env codec.Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	return env
}

func sendOps(t *testing.T, ctx context.Context, conn *push.Conn, ops ...codec.Operation) {
	t.Helper()
	data, err := json.Marshal(codec.Envelope{Type: codec.EnvelopeOps, Ops: ops})
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, string(data)))
}

func TestPushChannel(t *testing.T) {
	ts, st := newTestServer(t)
	info := createSession(t, ts.URL)
	sess, err := st.Session(info.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/push/" + info.ID
	conn, err := push.Dial(ctx, url, push.DefaultOptions())
	require.NoError(t, err)
	defer conn.Close()

	snap := receiveEnvelope(t, ctx, conn)
	assert.Equal(t, codec.EnvelopeSnapshot, snap.Type)
	require.NotNil(t, snap.Tree)
	assert.Equal(t, 1, snap.Tree.ID)

	sendOps(t, ctx, conn, codec.Operation{Op: codec.OpPut, Node: 1, Key: "title", Value: json.RawMessage(`"hi"`)})
	ack := receiveEnvelope(t, ctx, conn)
	assert.Equal(t, codec.EnvelopeAck, ack.Type)

	sendOps(t, ctx, conn, codec.Operation{Op: codec.OpPut, Node: 99, Key: "x"})
	rejected := receiveEnvelope(t, ctx, conn)
	assert.Equal(t, codec.EnvelopeError, rejected.Type)
	require.NotNil(t, rejected.Error)
	assert.Equal(t, "UNKNOWN_NODE", rejected.Error.Code)

	require.NoError(t, conn.Send(ctx, "not json"))
	malformed := receiveEnvelope(t, ctx, conn)
	assert.Equal(t, codec.EnvelopeError, malformed.Type)
	assert.Equal(t, "MALFORMED_JSON", malformed.Error.Code)

	msgs, err := sess.Flush()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Greater(t, msgs[0].SyncID, snap.SyncID)
	st.ApplyUpdate(store.Update{Type: store.UpdateChanges, SessionID: sess.ID, Payload: msgs[0]})

	synced := receiveEnvelope(t, ctx, conn)
	assert.Equal(t, codec.EnvelopeSync, synced.Type)
	assert.Equal(t, msgs[0].SyncID, synced.SyncID)
	assert.NotEmpty(t, synced.Changes)

	require.NoError(t, st.CloseSession(info.ID, false))
	_, err = conn.Receive(ctx)
	assert.Error(t, err)
}

func TestPushClientJoiningBeforeFlush(t *testing.T) {
	ts, st := newTestServer(t)
	info := createSession(t, ts.URL)
	sess, err := st.Session(info.ID)
	require.NoError(t, err)
	_, err = sess.Flush()
	require.NoError(t, err)

	appendItem := func(v string) {
		_, err := sess.Apply([]codec.Operation{
			{Op: codec.OpAppend, Node: 1, Key: "items", Value: json.RawMessage(`"` + v + `"`)},
		})
		require.NoError(t, err)
	}
	appendItem("a")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/push/" + info.ID
	conn, err := push.Dial(ctx, url, push.DefaultOptions())
	require.NoError(t, err)
	defer conn.Close()

	snap := receiveEnvelope(t, ctx, conn)
	require.Equal(t, codec.EnvelopeSnapshot, snap.Type)
	require.NotNil(t, snap.Tree)
	assert.Equal(t, []any{"a"}, snap.Tree.Lists["items"])

	appendItem("b")
	msgs, err := sess.Flush()
	require.NoError(t, err)
	for _, msg := range msgs {
		st.ApplyUpdate(store.Update{Type: store.UpdateChanges, SessionID: sess.ID, Payload: msg})
	}

	synced := receiveEnvelope(t, ctx, conn)
	assert.Equal(t, codec.EnvelopeSync, synced.Type)
	assert.Equal(t, snap.SyncID+1, synced.SyncID)
	require.Len(t, synced.Changes, 1)
	assert.Equal(t, "splice-insert", synced.Changes[0].Type)
	require.NotNil(t, synced.Changes[0].Index)
	assert.Equal(t, 1, *synced.Changes[0].Index)
	assert.JSONEq(t, `"b"`, string(synced.Changes[0].Value))
}

func TestPushUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/push/4b0a6f4e-8d1c-4a57-9d53-2f2d1c1a0b77")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	createSession(t, ts.URL)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "statesync_store_sessions 1")
}
