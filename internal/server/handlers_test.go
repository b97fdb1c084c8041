package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordkv/internal/dht"
	"chordkv/internal/transport"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := testLogger()
	registry := transport.NewRegistry(time.Second, log)
	t.Cleanup(registry.CloseAll)
	node := dht.New("127.0.0.1:0", registry, nil, dht.DefaultConfig(), log)
	return New("127.0.0.1:0", node, log)
}

func decodeNodeInfo(t *testing.T, rec *httptest.ResponseRecorder) nodeInfo {
	t.Helper()
	var info nodeInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	return info
}

// /sim-crash must actually flip the node's crash-injection flag, not
// just a value /node-info happens to echo back; /sim-recover must
// clear it again.
func TestSimCrashSetsNodeCrashedAndSimRecoverClearsIt(t *testing.T) {
	s := newTestServer(t)
	require.False(t, s.node.Crashed())

	req := httptest.NewRequest(http.MethodPost, "/sim-crash", nil)
	rec := httptest.NewRecorder()
	s.handleSimCrash(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.node.Crashed())

	infoReq := httptest.NewRequest(http.MethodGet, "/node-info", nil)
	infoRec := httptest.NewRecorder()
	s.handleNodeInfo(infoRec, infoReq)
	assert.True(t, decodeNodeInfo(t, infoRec).Crashed)

	recoverReq := httptest.NewRequest(http.MethodPost, "/sim-recover", nil)
	recoverRec := httptest.NewRecorder()
	s.handleSimRecover(recoverRec, recoverReq)
	assert.Equal(t, http.StatusOK, recoverRec.Code)
	assert.False(t, s.node.Crashed())
}
