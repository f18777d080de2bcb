package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lealone/pkg/types"
)

func TestClientGetSurfacesServerErrorStatus(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(NewErrorResponse("boom"))
	}))
	defer hs.Close()

	client := NewClient("node-a", hs.URL)
	_, _, err := client.Get("kv", types.Int64(1))
	if err == nil {
		t.Fatalf("expected error response to surface as a Go error")
	}
}

func TestClientHostIDEchoesConstructorArgument(t *testing.T) {
	client := NewClient("node-a:9000", "http://example.invalid")
	if client.HostID() != "node-a:9000" {
		t.Fatalf("expected HostID to echo constructor argument, got %s", client.HostID())
	}
}
