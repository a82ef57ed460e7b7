package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// setupServer starts an httptest server and a client pointed at it.
func setupServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token")
}

func TestPutDocumentSuccess(t *testing.T) {
	var gotAuth string
	var gotReq PutDocumentRequest

	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/documents/doc-1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(PutResponse{SyncVersion: 4, SyncedAt: time.Now().UTC()})
	})

	resp, err := client.PutDocument(context.Background(), "doc-1", PutDocumentRequest{
		Name:        "Note",
		Content:     "content",
		SyncVersion: 3,
	})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if resp.SyncVersion != 4 {
		t.Errorf("expected version 4, got %d", resp.SyncVersion)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotReq.SyncVersion != 3 || gotReq.Content != "content" {
		t.Errorf("request body mangled: %+v", gotReq)
	}
}

func TestPutDocumentConflictCarriesSnapshot(t *testing.T) {
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ServerDocument{
			ID:          "doc-1",
			Name:        "Server name",
			Content:     "server content",
			SyncVersion: 9,
			UpdatedAt:   time.Now().UTC(),
		})
	})

	_, err := client.PutDocument(context.Background(), "doc-1", PutDocumentRequest{SyncVersion: 3})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Server.SyncVersion != 9 || conflict.Server.Content != "server content" {
		t.Errorf("server snapshot lost: %+v", conflict.Server)
	}
	if IsTransient(err) {
		t.Error("conflicts must never classify as transient")
	}
}

func TestStatusErrorClassification(t *testing.T) {
	cases := []struct {
		code      int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusUnprocessableEntity, false},
	}

	for _, tc := range cases {
		client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
			json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
		})

		_, err := client.PutDocument(context.Background(), "doc-1", PutDocumentRequest{})
		var status *StatusError
		if !errors.As(err, &status) {
			t.Fatalf("code %d: expected StatusError, got %v", tc.code, err)
		}
		if status.Code != tc.code {
			t.Errorf("expected code %d, got %d", tc.code, status.Code)
		}
		if status.Message != "nope" {
			t.Errorf("expected decoded message, got %q", status.Message)
		}
		if IsTransient(err) != tc.transient {
			t.Errorf("code %d: expected transient=%v", tc.code, tc.transient)
		}
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	// Nothing listens here.
	client := NewClient("http://127.0.0.1:1", "")

	_, err := client.PutDocument(context.Background(), "doc-1", PutDocumentRequest{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !IsTransient(err) {
		t.Error("transport failures must classify as transient")
	}
	var status *StatusError
	if errors.As(err, &status) {
		t.Error("transport failure must not be a StatusError")
	}
}

func TestListDocumentsSince(t *testing.T) {
	since := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var gotSince string

	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		json.NewEncoder(w).Encode(map[string]any{
			"documents": []ServerDocument{{ID: "doc-1", SyncVersion: 2}},
		})
	})

	docs, err := client.ListDocumentsSince(context.Background(), since)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if gotSince != "2026-08-01T12:00:00Z" {
		t.Errorf("unexpected since param: %q", gotSince)
	}
	if len(docs) != 1 || docs[0].ID != "doc-1" {
		t.Errorf("unexpected documents: %+v", docs)
	}
}

func TestListDocumentsZeroSinceOmitsParam(t *testing.T) {
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("zero since should omit the query, got %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{"documents": []ServerDocument{}})
	})

	if _, err := client.ListDocumentsSince(context.Background(), time.Time{}); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteDocumentNotFoundIsSuccess(t *testing.T) {
	client := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if err := client.DeleteDocument(context.Background(), "gone"); err != nil {
		t.Errorf("404 delete should be treated as success, got %v", err)
	}
}
