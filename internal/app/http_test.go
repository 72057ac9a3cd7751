package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"plume/api/internal/auth"
	"plume/api/internal/store"
)

func newTestServer(fake *fakeStore) *httptest.Server {
	svc := newTestService(fake)
	return httptest.NewServer(NewHTTPServer(svc, "*").Handler())
}

func issueTestToken(t *testing.T, accountID int64) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  accountID,
		Name: "Tester",
		JTI:  "jti-test",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	fake := &fakeStore{
		pingFn: func(context.Context) error { return context.DeadlineExceeded },
	}
	server := newTestServer(fake)
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/ready", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if payload["status"] != "not_ready" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestCreatePostRequiresSession(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/posts", "", `{"title":"t","body":"b"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestCreatePostViaHTTP(t *testing.T) {
	fake := &fakeStore{
		listPostTagsFn: func(context.Context, int64) ([]store.Tag, error) {
			return []store.Tag{{ID: 1, Name: "golang"}, {ID: 2, Name: "postgres"}}, nil
		},
	}
	server := newTestServer(fake)
	defer server.Close()

	token := issueTestToken(t, 1)
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/posts", token,
		`{"title":"Hello","body":"World","tags":"golang, postgres ,golang"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, payload)
	}
	tags, _ := payload["tags"].([]any)
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", payload["tags"])
	}
}

func TestDeletePostForbiddenOverHTTP(t *testing.T) {
	fake := &fakeStore{
		getPostFn: func(_ context.Context, postID int64) (store.Post, error) {
			return store.Post{ID: postID, AccountID: 99}, nil
		},
	}
	server := newTestServer(fake)
	defer server.Close()

	token := issueTestToken(t, 1)
	resp, payload := doJSON(t, http.MethodDelete, server.URL+"/api/posts/5", token, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if payload["code"] != "FORBIDDEN" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestMissingPostIsNotFound(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/posts/12345", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestNonNumericPostIDIsNotFound(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/posts/abc", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSessionEndpointAnonymous(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/session", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["authenticated"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestMediaUploadUnavailableWithoutStore(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	token := issueTestToken(t, 1)
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/media", token, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if payload["code"] != "MEDIA_UNAVAILABLE" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestRequestIDHeaderIsEchoed(t *testing.T) {
	server := newTestServer(&fakeStore{})
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}
