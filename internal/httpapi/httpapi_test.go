package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icycon/emailengine"
	"github.com/icycon/emailengine/internal/httpapi"
	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/content"
	"github.com/icycon/emailengine/pkg/health"
	"github.com/icycon/emailengine/pkg/mailer"
	"github.com/icycon/emailengine/pkg/store/memory"
)

type apiEnv struct {
	engine  *emailengine.Engine
	consent *consent.Static
	handler http.Handler
}

func newAPI(t *testing.T, opts ...httpapi.Option) *apiEnv {
	t.Helper()

	templates := content.NewStatic()
	templates.Put(0, "welcome", content.Content{Subject: "Welcome", Text: "Hello"})
	consents := consent.NewStatic()

	provider := mailer.ProviderFunc(func(context.Context, *mailer.Message) (mailer.Outcome, error) {
		return mailer.Delivered("msg-77"), nil
	})
	eng := emailengine.New(memory.New(), provider,
		emailengine.WithConsent(consents),
		emailengine.WithContent(templates),
		emailengine.WithFromAddress("no-reply@example.com"),
	)

	return &apiEnv{
		engine:  eng,
		consent: consents,
		handler: httpapi.NewRouter(eng, consents, opts...),
	}
}

func (e *apiEnv) do(t *testing.T, method, path, body string, tenant string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(httpapi.TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type idBody struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

type errBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const sendBody = `{"recipient":"alice@example.com","content_ref":"welcome","nonce":"n-1"}`

func TestSubmitAndInspect(t *testing.T) {
	t.Parallel()

	api := newAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/sends", sendBody, "5")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[idBody](t, rec)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.Duplicate)

	rec = api.do(t, http.MethodPost, "/v1/sends", sendBody, "5")
	require.Equal(t, http.StatusOK, rec.Code)
	dup := decodeBody[idBody](t, rec)
	assert.Equal(t, created.ID, dup.ID)
	assert.True(t, dup.Duplicate)

	rec = api.do(t, http.MethodGet, "/v1/sends/"+created.ID, "", "5")
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decodeBody[emailengine.SendRecord](t, rec)
	assert.Equal(t, emailengine.StateQueued, snapshot.State)
	assert.Equal(t, "alice@example.com", snapshot.Recipient)

	rec = api.do(t, http.MethodGet, "/v1/sends/"+created.ID, "", "6")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/sends/"+created.ID+"/events", "", "5")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody[struct {
		Events []emailengine.Event `json:"events"`
	}](t, rec)
	require.Len(t, events.Events, 1)
	assert.Equal(t, emailengine.StateQueued, events.Events[0].To)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		body     string
		tenant   string
		wantCode int
		wantErr  string
	}{
		{name: "missing tenant", body: sendBody, wantCode: http.StatusBadRequest, wantErr: "missing_tenant"},
		{name: "negative tenant", body: sendBody, tenant: "-1", wantCode: http.StatusBadRequest, wantErr: "missing_tenant"},
		{name: "malformed json", body: `{"recipient":`, tenant: "5", wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "unknown field", body: `{"to":"a@example.com"}`, tenant: "5", wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{
			name:     "invalid recipient",
			body:     `{"recipient":"alice","content_ref":"welcome"}`,
			tenant:   "5",
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "invalid_recipient",
		},
		{
			name:     "missing content ref",
			body:     `{"recipient":"alice@example.com"}`,
			tenant:   "5",
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  "invalid_request",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := newAPI(t).do(t, http.MethodPost, "/v1/sends", tc.body, tc.tenant)
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tc.wantErr, decodeBody[errBody](t, rec).Code)
		})
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	api := newAPI(t)
	created := decodeBody[idBody](t, api.do(t, http.MethodPost, "/v1/sends", sendBody, "5"))

	rec := api.do(t, http.MethodPost, "/v1/sends/"+created.ID+"/cancel", "", "5")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/sends/"+created.ID+"/cancel", "", "5")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_cancellable", decodeBody[errBody](t, rec).Code)

	rec = api.do(t, http.MethodPost, "/v1/sends/not-a-uuid/cancel", "", "5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedback(t *testing.T) {
	t.Parallel()

	api := newAPI(t)
	created := decodeBody[idBody](t, api.do(t, http.MethodPost, "/v1/sends", sendBody, "5"))

	// Deliver so the provider message id exists.
	id := created.ID
	_, err := api.engine.Dispatch(context.Background(), 5, mustUUID(t, id))
	require.NoError(t, err)

	rec := api.do(t, http.MethodPost, "/v1/feedback", `{"provider_message_id":"msg-77","kind":"bounce"}`, "5")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	snapshot := decodeBody[emailengine.SendRecord](t, api.do(t, http.MethodGet, "/v1/sends/"+id, "", "5"))
	assert.Equal(t, 1, snapshot.Bounces)

	rec = api.do(t, http.MethodPost, "/v1/feedback", `{"provider_message_id":"msg-77","kind":"open"}`, "5")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/feedback", `{"provider_message_id":"other","kind":"complaint"}`, "5")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/feedback", `{"provider_message_id":"msg-77","kind":"complaint"}`, "6")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	snapshot = decodeBody[emailengine.SendRecord](t, api.do(t, http.MethodGet, "/v1/sends/"+id, "", "5"))
	assert.Equal(t, 1, snapshot.Bounces)
	assert.Zero(t, snapshot.Complaints)
}

func TestListSends(t *testing.T) {
	t.Parallel()

	api := newAPI(t)
	first := decodeBody[idBody](t, api.do(t, http.MethodPost, "/v1/sends", sendBody, "5"))
	time.Sleep(2 * time.Millisecond)
	second := decodeBody[idBody](t, api.do(t, http.MethodPost, "/v1/sends",
		`{"recipient":"bob@example.com","content_ref":"welcome","nonce":"n-2"}`, "5"))
	_, err := api.engine.Dispatch(context.Background(), 5, mustUUID(t, first.ID))
	require.NoError(t, err)

	type listBody struct {
		Sends []emailengine.SendRecord `json:"sends"`
	}

	rec := api.do(t, http.MethodGet, "/v1/sends", "", "5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decodeBody[listBody](t, rec)
	require.Len(t, all.Sends, 2)
	assert.Equal(t, second.ID, all.Sends[0].ID.String())
	assert.Equal(t, first.ID, all.Sends[1].ID.String())

	rec = api.do(t, http.MethodGet, "/v1/sends?state=sent", "", "5")
	require.Equal(t, http.StatusOK, rec.Code)
	sent := decodeBody[listBody](t, rec)
	require.Len(t, sent.Sends, 1)
	assert.Equal(t, first.ID, sent.Sends[0].ID.String())

	rec = api.do(t, http.MethodGet, "/v1/sends?limit=1", "", "5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[listBody](t, rec).Sends, 1)

	rec = api.do(t, http.MethodGet, "/v1/sends", "", "6")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sends":[]}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/v1/sends?state=delivered", "", "5")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/sends?limit=abc", "", "5")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestContacts(t *testing.T) {
	t.Parallel()

	api := newAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/contacts/unsubscribe", `{"email":"alice@example.com"}`, "5")
	require.Equal(t, http.StatusNoContent, rec.Code)

	ok, err := api.consent.Subscribed(context.Background(), 5, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	rec = api.do(t, http.MethodPost, "/v1/contacts/resubscribe", `{"email":"alice@example.com"}`, "5")
	require.Equal(t, http.StatusNoContent, rec.Code)

	ok, err = api.consent.Subscribed(context.Background(), 5, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	rec = api.do(t, http.MethodPost, "/v1/contacts/unsubscribe", `{"email":"nope"}`, "5")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	api := newAPI(t, httpapi.WithHealthChecks(health.Checks{
		"db": func(context.Context) error { return errors.New("down") },
	}))

	rec := api.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = api.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "emailengine_")
}

func TestCORS(t *testing.T) {
	t.Parallel()

	api := newAPI(t, httpapi.WithCORSOrigins("https://ops.example.com"))

	req := httptest.NewRequest(http.MethodOptions, "/v1/sends", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServe(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- httpapi.Serve(ctx, httpapi.ServerConfig{Addr: addr, ShutdownTimeout: time.Second}, newAPI(t).handler, nil)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health/live")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()

	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}
