package approvalsrv

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/spiritd/pkg/models"
)

type fakeMutationStore struct {
	listOwner    string
	mutations    []*models.PendingMutation
	approvedID   string
	approvedFeed string
	rejectedID   string
	rejectedFeed string
	resolveErr   error
}

func (f *fakeMutationStore) ListPendingMutations(_ context.Context, owner string) ([]*models.PendingMutation, error) {
	f.listOwner = owner
	return f.mutations, nil
}

func (f *fakeMutationStore) ApproveMutation(_ context.Context, mutationID, feedback string) error {
	f.approvedID, f.approvedFeed = mutationID, feedback
	return f.resolveErr
}

func (f *fakeMutationStore) RejectMutation(_ context.Context, mutationID, feedback string) error {
	f.rejectedID, f.rejectedFeed = mutationID, feedback
	return f.resolveErr
}

func newTestServer(t *testing.T) (*Server, *fakeMutationStore) {
	t.Helper()
	store := &fakeMutationStore{mutations: []*models.PendingMutation{{ID: "mut-1", BlockID: "block-1"}}}
	srv := New(Config{JWTSecret: "test-secret", TokenTTL: time.Hour}, store, nil)
	return srv, store
}

func TestServer_RejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.withAuth(srv.handleList)

	req := httptest.NewRequest(http.MethodGet, "/mutations", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServer_RejectsInvalidToken(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.withAuth(srv.handleList)

	req := httptest.NewRequest(http.MethodGet, "/mutations", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServer_ListReturnsOwnerScopedMutations(t *testing.T) {
	srv, store := newTestServer(t)
	token, err := srv.IssueToken("alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handler := srv.withAuth(srv.handleList)
	req := httptest.NewRequest(http.MethodGet, "/mutations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.listOwner != "alice" {
		t.Fatalf("expected owner 'alice' to be forwarded, got %q", store.listOwner)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := body["mutations"]; !ok {
		t.Fatalf("expected mutations field in response, got %+v", body)
	}
}

func TestServer_ApproveForwardsMutationIDAndFeedback(t *testing.T) {
	srv, store := newTestServer(t)
	token, err := srv.IssueToken("alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handler := srv.withAuth(srv.handleApprove)
	body, _ := json.Marshal(resolveRequest{MutationID: "mut-1", Feedback: "looks good"})
	req := httptest.NewRequest(http.MethodPost, "/mutations/approve", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.approvedID != "mut-1" || store.approvedFeed != "looks good" {
		t.Fatalf("expected approve forwarded with id/feedback, got id=%q feedback=%q", store.approvedID, store.approvedFeed)
	}
}

func TestServer_RejectRequiresMutationID(t *testing.T) {
	srv, _ := newTestServer(t)
	token, err := srv.IssueToken("alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handler := srv.withAuth(srv.handleReject)
	body, _ := json.Marshal(resolveRequest{Feedback: "no reason given"})
	req := httptest.NewRequest(http.MethodPost, "/mutations/reject", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServer_HealthzIsUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data, _ := io.ReadAll(rec.Body)
	if !bytes.Contains(data, []byte(`"ok"`)) {
		t.Fatalf("expected ok status, got %s", data)
	}
}
