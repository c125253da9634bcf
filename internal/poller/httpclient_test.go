package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"charactercam/server/internal/domain"
)

func TestAPIClientListGenerations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/generations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[{"id":"g1","status":"processing","character_name":"Nova"}]}`)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "tok", nil)
	items, err := client.ListGenerations(context.Background())
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(items) != 1 || items[0].ID != "g1" || items[0].Status != domain.StatusProcessing {
		t.Fatalf("items = %+v", items)
	}
}

func TestAPIClientListUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthorized"}`)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "bad", nil)
	if _, err := client.ListGenerations(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestAPIClientDeleteTreatsNotFoundAsGone(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete || r.URL.Path != "/v1/generations/g1" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			w.WriteHeader(status)
		}))
		client := NewAPIClient(srv.URL, "tok", nil)
		if err := client.DeleteGeneration(context.Background(), "g1"); err != nil {
			t.Fatalf("status %d: %v", status, err)
		}
		srv.Close()
	}
}

func TestAPIClientDeleteSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "tok", nil)
	if err := client.DeleteGeneration(context.Background(), "g1"); err == nil {
		t.Fatal("expected error for 500")
	}
}
