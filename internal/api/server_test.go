package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docsage/internal/auth"
	"github.com/sells-group/docsage/internal/blob"
	"github.com/sells-group/docsage/internal/document"
	"github.com/sells-group/docsage/internal/locator"
	"github.com/sells-group/docsage/internal/model"
	"github.com/sells-group/docsage/internal/qa"
	"github.com/sells-group/docsage/internal/store"
)

type askFunc func(ctx context.Context, userID, fingerprint, question string) (*qa.Result, error)

func (f askFunc) Ask(ctx context.Context, userID, fingerprint, question string) (*qa.Result, error) {
	return f(ctx, userID, fingerprint, question)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	srv    *httptest.Server
	router http.Handler
	st    *store.SQLiteStore
	blobs *blob.MemoryStore
	asker askFunc
}

func newTestServer(t *testing.T, asker askFunc) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	ts := &testServer{st: st, blobs: blob.NewMemory("docs"), asker: asker}
	loc := locator.New(st, ts.blobs, nil, locator.Options{})
	docs := document.NewService(st, ts.blobs, loc, nil, document.Config{})

	router := NewRouter(Deps{
		Asker:     askFunc(func(ctx context.Context, u, fp, q string) (*qa.Result, error) { return ts.asker(ctx, u, fp, q) }),
		Documents: docs,
		Ledger:    st,
		Health:    st,
	}, Options{Auth: auth.DevMiddleware, CORSOrigins: []string{"https://app.example.com"}, MaxUploadSize: 1 << 20})
	ts.router = router
	ts.srv = httptest.NewServer(router)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(auth.DevUserHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func (ts *testServer) askJSON(t *testing.T, user, fp, question string) *http.Response {
	t.Helper()
	b, _ := json.Marshal(map[string]string{"fingerprint": fp, "question": question})
	return ts.do(t, http.MethodPost, "/v1/ask", user, bytes.NewReader(b), "application/json")
}

func (ts *testServer) upload(t *testing.T, user, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return ts.do(t, http.MethodPost, "/v1/documents", user, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func seedRecord(t *testing.T, st *store.SQLiteStore, user, fp, question string) *model.Conversation {
	t.Helper()
	rec, err := st.Append(context.Background(), user, fp, model.Answer{
		Question: question, Answer: "POL-998", Confidence: 0.95, Reasoning: "declarations page", Verified: true,
	})
	require.NoError(t, err)
	return rec
}

func TestAsk_Success(t *testing.T) {
	ts := newTestServer(t, func(_ context.Context, user, fp, q string) (*qa.Result, error) {
		assert.Equal(t, "u1", user)
		assert.Equal(t, "abc123", fp)
		return &qa.Result{
			Answer: model.Answer{Question: q, Answer: "POL-998", Confidence: 0.95, Reasoning: "r", Verified: true},
			Record: &model.Conversation{SortKey: "abc123#2026-01-01T00:00:00.000000Z"},
		}, nil
	})

	resp := ts.askJSON(t, "u1", "abc123", "What is the policy number?")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "POL-998", body["answer"])
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, "What is the policy number?", body["question"])
	assert.Contains(t, body, "source")
	assert.Nil(t, body["source"])
	assert.NotContains(t, body, "similarity")
	assert.Equal(t, "abc123#2026-01-01T00:00:00.000000Z", body["sort_key"])
}

func TestAsk_Cached(t *testing.T) {
	ts := newTestServer(t, func(_ context.Context, _, _, q string) (*qa.Result, error) {
		return &qa.Result{Answer: model.Answer{Question: "What is the policy number?", Answer: "POL-998"}, Cached: true, Score: 0.9}, nil
	})

	body := decode[map[string]any](t, ts.askJSON(t, "u1", "abc123", "What's the policy #?"))
	assert.Equal(t, true, body["cached"])
	assert.InDelta(t, 0.9, body["similarity"], 1e-9)
}

func TestAsk_ErrorKinds(t *testing.T) {
	tests := []struct {
		kind      qa.Kind
		status    int
		retryable bool
	}{
		{qa.KindInvalidInput, http.StatusBadRequest, false},
		{qa.KindDocumentNotFound, http.StatusNotFound, false},
		{qa.KindDocumentUnprocessable, http.StatusUnprocessableEntity, false},
		{qa.KindUpstreamUnavailable, http.StatusServiceUnavailable, true},
		{qa.KindInvalidModelResponse, http.StatusBadGateway, false},
		{qa.KindLedgerWriteFailed, http.StatusInternalServerError, true},
		{qa.KindInternal, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ts := newTestServer(t, func(context.Context, string, string, string) (*qa.Result, error) {
				return nil, &qa.Error{Kind: tt.kind, Err: eris.New("secret upstream detail")}
			})

			resp := ts.askJSON(t, "u1", "abc123", "q?")
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[errorBody](t, resp)
			assert.Equal(t, string(tt.kind), body.Error.Kind)
			assert.Equal(t, tt.retryable, body.Error.Retryable)
			assert.NotEmpty(t, body.Error.RequestID)
			if tt.kind != qa.KindInvalidInput {
				assert.NotContains(t, body.Error.Message, "secret")
			}
		})
	}
}

func TestAsk_BadBody(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodPost, "/v1/ask", "u1", strings.NewReader("{not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAsk_RequiresIdentity(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.askJSON(t, "", "abc123", "q?")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusForKind_Unknown(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusForKind("Nope"))
}

func TestDocuments_UploadGetDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	content := []byte("%PDF-1.7 test policy")
	fp := document.Fingerprint(content)

	resp := ts.upload(t, "u1", "policy.pdf", content)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[model.Document](t, resp)
	assert.Equal(t, fp, doc.Fingerprint)
	assert.Equal(t, "policy.pdf", doc.Filename)

	resp = ts.upload(t, "u1", "copy.pdf", content)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/documents/"+fp, "u1", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/documents/"+fp, "u2", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "documents are scoped to the caller")

	list := decode[[]model.Document](t, ts.do(t, http.MethodGet, "/v1/documents", "u1", nil, ""))
	assert.Len(t, list, 1)

	resp = ts.do(t, http.MethodDelete, "/v1/documents/"+fp, "u1", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, ts.blobs.Len())

	resp = ts.do(t, http.MethodDelete, "/v1/documents/"+fp, "u1", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocuments_UploadRejects(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.upload(t, "u1", "empty.pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/documents", "u1", strings.NewReader("plain"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "big.pdf")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("x"), 2<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(auth.DevUserHeader, "u1")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDocuments_DeleteAll(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.upload(t, "u1", "a.pdf", []byte("%PDF a"))
	ts.upload(t, "u1", "b.pdf", []byte("%PDF b"))

	body := decode[deletedResponse](t, ts.do(t, http.MethodDelete, "/v1/documents", "u1", nil, ""))
	assert.Equal(t, 2, body.Deleted)
}

func TestConversations(t *testing.T) {
	ts := newTestServer(t, nil)
	first := seedRecord(t, ts.st, "u1", "abc123", "What is the policy number?")
	seedRecord(t, ts.st, "u1", "abc123", "Who is the insured?")
	seedRecord(t, ts.st, "u1", "def456", "What is the premium?")
	seedRecord(t, ts.st, "u2", "abc123", "What is the policy number?")

	all := decode[[]model.Conversation](t, ts.do(t, http.MethodGet, "/v1/conversations", "u1", nil, ""))
	assert.Len(t, all, 3)

	byDoc := decode[[]model.Conversation](t, ts.do(t, http.MethodGet, "/v1/conversations/abc123", "u1", nil, ""))
	require.Len(t, byDoc, 2)
	assert.Equal(t, first.SortKey, byDoc[0].SortKey)

	one := decode[model.Conversation](t, ts.do(t, http.MethodGet,
		"/v1/conversations/abc123?question=Who+is+the+insured%3F", "u1", nil, ""))
	assert.Equal(t, "Who is the insured?", one.Question)

	resp := ts.do(t, http.MethodGet, "/v1/conversations/abc123?question=unknown", "u1", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, ts1, ok := model.ParseSortKey(first.SortKey)
	require.True(t, ok)
	resp = ts.do(t, http.MethodDelete, "/v1/conversations/abc123/"+ts1.UTC().Format(model.TimestampLayout), "u1", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/v1/conversations/abc123/yesterday", "u1", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	deleted := decode[deletedResponse](t, ts.do(t, http.MethodDelete, "/v1/conversations/abc123", "u1", nil, ""))
	assert.Equal(t, 1, deleted.Deleted)

	deleted = decode[deletedResponse](t, ts.do(t, http.MethodDelete, "/v1/conversations", "u1", nil, ""))
	assert.Equal(t, 1, deleted.Deleted)

	left := decode[[]model.Conversation](t, ts.do(t, http.MethodGet, "/v1/conversations", "u2", nil, ""))
	assert.Len(t, left, 1, "other users are untouched")

	empty := ts.do(t, http.MethodGet, "/v1/conversations", "u1", nil, "")
	raw, _ := io.ReadAll(empty.Body)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	router := NewRouter(Deps{Health: pingFunc(func(context.Context) error { return errors.New("db down") })}, Options{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/health", "", nil, "")

	resp := ts.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `docsage_http_requests_total{method="GET",route="/health",status="200"}`)
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, ts.srv.URL+"/v1/ask", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
