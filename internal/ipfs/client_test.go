package ipfs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPutUploadsAndReturnsHash(t *testing.T) {
	t.Parallel()

	var gotPath, gotPin string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPin = r.URL.Query().Get("pin")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing multipart file: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotBody, _ = io.ReadAll(file)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Name": "metadata.json",
			"Hash": "QmTestHash",
			"Size": "42",
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{APIURL: server.URL, GatewayURL: "https://gateway.test"})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	hash, err := client.Put(context.Background(), "metadata.json", map[string]any{"result": true})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if hash != "QmTestHash" {
		t.Fatalf("unexpected hash: %q", hash)
	}
	if gotPath != "/api/v0/add" {
		t.Fatalf("unexpected API path: %q", gotPath)
	}
	if gotPin != "true" {
		t.Fatalf("uploads must be pinned, pin=%q", gotPin)
	}
	if !strings.Contains(string(gotBody), `"result":true`) {
		t.Fatalf("unexpected uploaded body: %s", gotBody)
	}
}

func TestPutRejectsNodeErrors(t *testing.T) {
	t.Parallel()

	t.Run("bad status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "node down", http.StatusInternalServerError)
		}))
		defer server.Close()

		client, err := NewClient(Config{APIURL: server.URL})
		if err != nil {
			t.Fatalf("new client failed: %v", err)
		}
		if _, err := client.Put(context.Background(), "metadata.json", map[string]any{}); err == nil {
			t.Fatal("expected error for a failing node")
		}
	})

	t.Run("missing hash", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"Name": "metadata.json"})
		}))
		defer server.Close()

		client, err := NewClient(Config{APIURL: server.URL})
		if err != nil {
			t.Fatalf("new client failed: %v", err)
		}
		if _, err := client.Put(context.Background(), "metadata.json", map[string]any{}); err == nil {
			t.Fatal("expected error when the node returns no hash")
		}
	})
}

func TestGatewayURL(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{APIURL: "http://127.0.0.1:5001", GatewayURL: "https://gateway.test/"})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if got := client.GatewayURL("QmX"); got != "https://gateway.test/ipfs/QmX" {
		t.Fatalf("unexpected gateway url: %q", got)
	}

	bare, err := NewClient(Config{APIURL: "http://127.0.0.1:5001"})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if got := bare.GatewayURL("QmX"); got != "QmX" {
		t.Fatalf("without a gateway the bare hash is returned, got %q", got)
	}
}

func TestNewClientRequiresAPIURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for a missing API URL")
	}
}
