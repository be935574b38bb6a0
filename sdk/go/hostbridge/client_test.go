package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallEncodesArgumentsAsText(t *testing.T) {
	var gotBody []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/ops/kv_set" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"r1","ok":true,"result":{"ok":true}}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	entry := map[string]any{"key": "a", "value": "b"}
	if err := client.Call(context.Background(), "kv_set", &out, entry, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected ok result")
	}
	if len(gotBody) != 2 || gotBody[0] != `{"key":"a","value":"b"}` || gotBody[1] != nil {
		t.Fatalf("unexpected body %#v", gotBody)
	}
}

func TestCallSurfacesCallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"id":"r2","ok":false,"error":{"code":"ARGUMENT_MISSING","message":"key must be provided","retryable":false}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	err := client.Call(context.Background(), "kv_get", nil)
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.StatusCode != http.StatusUnprocessableEntity || callErr.Code != "ARGUMENT_MISSING" || callErr.RequestID != "r2" {
		t.Fatalf("unexpected call error %+v", callErr)
	}
}

func TestCallRejectsNonEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	err := client.Call(context.Background(), "kv_get", nil, "a")
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Code != "INVALID_RESPONSE" || callErr.Message != "upstream down" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOperations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ops" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode([]Operation{{Name: "kv_get", Subsystem: "kv", Version: "1.0.0", Params: []string{"key"}}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ops, err := client.Operations(context.Background())
	if err != nil {
		t.Fatalf("operations: %v", err)
	}
	if len(ops) != 1 || ops[0].Name != "kv_get" || ops[0].Params[0] != "key" {
		t.Fatalf("unexpected operations %+v", ops)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("://bad", nil); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}
