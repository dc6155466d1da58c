package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetrelay/internal/adapters/signal"
	"github.com/dkeye/meetrelay/internal/adapters/store"
	"github.com/dkeye/meetrelay/internal/app"
	"github.com/dkeye/meetrelay/internal/app/meeting"
	"github.com/dkeye/meetrelay/internal/app/orch"
	"github.com/dkeye/meetrelay/internal/config"
	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

type testServer struct {
	engine  *gin.Engine
	orch    *orch.Orchestrator
	storage *switchableStore
}

// switchableStore fails meeting reads while down is set.
type switchableStore struct {
	core.Store
	down atomic.Bool
}

func (s *switchableStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if s.down.Load() {
		return nil, errors.New("connection refused")
	}
	return s.Store.HGetAll(ctx, key)
}

func newTestServer(t *testing.T, tokens ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:      "test",
		Secret:    "test-secret",
		PublicURL: "https://meet.example.com/",
		APITokens: tokens,
		Meeting:   config.MeetingConfig{DefaultMaxParticipants: 8},
		ICEServers: []config.ICEServer{
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
		},
	}
	health := core.NewHealth(nil)
	facade := store.NewFacade(nil, store.NewMemoryStore(0), health)
	storage := &switchableStore{Store: facade}
	o := &orch.Orchestrator{Registry: app.NewRegistry(), Repo: meeting.NewRepository(storage), Policy: app.SimplePolicy{}}
	ctl := signal.NewSignalWSController(context.Background(), o, nil, signal.Settings{})
	return &testServer{engine: SetupRouter(cfg, o, ctl, facade, health), orch: o, storage: storage}
}

func (s *testServer) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (s *testServer) create(t *testing.T, bearer string, body any) string {
	t.Helper()
	w := s.do(http.MethodPost, "/api/meetings", bearer, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["token"].(string)
}

func TestCreateMeeting(t *testing.T) {
	s := newTestServer(t, "issued")

	w := s.do(http.MethodPost, "/api/meetings", "", map[string]any{"host_name": "alice"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(http.MethodPost, "/api/meetings", "forged", map[string]any{"host_name": "alice"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(http.MethodPost, "/api/meetings", "issued", map[string]any{"host_name": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/meetings", "issued", map[string]any{"host_name": "alice", "settings": map[string]any{"theme": "dark"}})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	token := body["token"].(string)
	assert.Equal(t, "https://meet.example.com/join/"+token, body["join_url"])
	m := body["meeting"].(map[string]any)
	assert.Equal(t, float64(8), m["max_participants"])
	assert.Equal(t, "alice", m["host_name"])

	meta, err := s.orch.Repo.GetSessionMetadata(context.Background(), domain.Token(token))
	require.NoError(t, err)
	assert.Equal(t, credentialHash("issued"), meta[domain.MetaCreatorHash])
	assert.Equal(t, "pending", meta[domain.MetaPaymentStatus])
}

func TestGetMeeting_PublicWithLiveCount(t *testing.T) {
	s := newTestServer(t)
	token := s.create(t, "any", map[string]any{"host_name": "alice", "max_participants": 3})

	w := s.do(http.MethodGet, "/api/meetings/"+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(0), body["participants"])
	assert.Equal(t, float64(3), body["meeting"].(map[string]any)["max_participants"])

	w = s.do(http.MethodGet, "/api/meetings/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndMeeting_OnlyHost(t *testing.T) {
	s := newTestServer(t)
	token := s.create(t, "host-secret", map[string]any{"host_name": "alice"})

	w := s.do(http.MethodDelete, "/api/meetings/"+token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(http.MethodDelete, "/api/meetings/"+token, "someone-else", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/api/meetings/"+token, "host-secret", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/meetings/"+token, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessagesAndClimate(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	token := s.create(t, "any", map[string]any{"host_name": "alice"})
	for _, text := range []string{"one", "two", "three"} {
		_, err := s.orch.Repo.AddMessage(ctx, domain.Token(token), domain.Message{Sender: "alice", Text: text})
		require.NoError(t, err)
	}
	_, err := s.orch.Repo.AddEmotion(ctx, domain.Token(token), "alice", "happy")
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/api/meetings/"+token+"/messages?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode(t, w)["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].(map[string]any)["text"])
	assert.Equal(t, "three", msgs[1].(map[string]any)["text"])

	w = s.do(http.MethodGet, "/api/meetings/"+token+"/messages?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/meetings/"+token+"/climate", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "positive", decode(t, w)["sentiment"])
}

func TestTestResponses_HostOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	token := s.create(t, "host-secret", map[string]any{"host_name": "alice"})
	test, err := s.orch.Repo.CreateSociometricTest(ctx, domain.Token(token), meeting.NewTest{
		CreatedBy: "alice",
		Questions: []domain.SociometricQuestion{{Text: "Who?"}},
	})
	require.NoError(t, err)
	_, err = s.orch.Repo.AddSociometricResponse(ctx, domain.Token(token), test.ID, "bob", map[string]string{"q1": "alice"})
	require.NoError(t, err)

	path := "/api/meetings/" + token + "/tests/" + test.ID + "/responses"
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, "other", nil).Code)

	w := s.do(http.MethodGet, path, "host-secret", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["responses"], 1)

	w = s.do(http.MethodGet, "/api/meetings/"+token+"/tests/nope/responses", "host-secret", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t)
	token := s.create(t, "any", map[string]any{"host_name": "alice"})

	w := s.do(http.MethodPost, "/api/webhooks/payment", "", map[string]any{"token": token, "status": "refunded"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/api/webhooks/payment", "", map[string]any{"token": "missing", "status": "paid"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/webhooks/payment", "", map[string]any{"token": token, "status": "paid"})
	require.Equal(t, http.StatusOK, w.Code)

	meta, err := s.orch.Repo.GetSessionMetadata(context.Background(), domain.Token(token))
	require.NoError(t, err)
	assert.Equal(t, "paid", meta[domain.MetaPaymentStatus])
	assert.NotEmpty(t, meta[domain.MetaPaymentAt])
	assert.Equal(t, "alice", meta[domain.MetaCreator])
}

func TestPaymentWebhook_StorageDown(t *testing.T) {
	s := newTestServer(t)
	token := s.create(t, "any", map[string]any{"host_name": "alice"})

	s.storage.down.Store(true)
	w := s.do(http.MethodPost, "/api/webhooks/payment", "", map[string]any{"token": token, "status": "paid"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.storage.down.Store(false)
	meta, err := s.orch.Repo.GetSessionMetadata(context.Background(), domain.Token(token))
	require.NoError(t, err)
	assert.Equal(t, "pending", meta[domain.MetaPaymentStatus])
}

func TestICEServersAndHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/ice-servers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	servers := decode(t, w)["iceServers"].([]any)
	require.Len(t, servers, 1)
	assert.Equal(t, []any{"turn:turn.example.com:3478"}, servers[0].(map[string]any)["urls"])

	w = s.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "disconnected", body["storage"])
	assert.Equal(t, false, body["durable"])
	assert.Contains(t, body, "fallback")
}

func TestClientTokenCookie(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/api/health", "", nil)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "MeetSessions", cookies[0].Name)
}
