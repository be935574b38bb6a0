package natsbridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"HostBridge/internal/bridge"
	"HostBridge/internal/bridge/wire"
	xerrors "HostBridge/internal/errors"
)

func startTestServer(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		t.Fatalf("nats server failed to start")
	}

	nc, err := Connect(srv.ClientURL(), "natsbridge-test")
	if err != nil {
		srv.Shutdown()
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return nc
}

func greetNamespace(t *testing.T) *bridge.Namespace {
	t.Helper()
	ns := bridge.NewNamespace()
	err := ns.Scope("ai").Handle("greet", func(_ context.Context, call *bridge.CallContext) (any, error) {
		name, err := bridge.Decode[string](call, 0, "name")
		if err != nil {
			return nil, err
		}
		return "hello " + name, nil
	}, "name")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	ns.Seal()
	return ns
}

func request(t *testing.T, nc *nats.Conn, subject, body, reqID string) wire.Envelope {
	t.Helper()
	msg := nats.NewMsg(subject)
	msg.Data = []byte(body)
	if reqID != "" {
		msg.Header.Set(RequestIDHeader, reqID)
	}
	reply, err := nc.RequestMsg(msg, 5*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	var env wire.Envelope
	if err := json.Unmarshal(reply.Data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestAdapterRoundTrip(t *testing.T) {
	nc := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := NewAdapter(nc, greetNamespace(t), WithPrefix("test.op."))
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if adapter.Subject("greet") != "test.op.greet" {
		t.Fatalf("unexpected subject %q", adapter.Subject("greet"))
	}

	env := request(t, nc, "test.op.greet", `["\"gopher\""]`, "req-1")
	if !env.OK || env.Result != "hello gopher" || env.ID != "req-1" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	env = request(t, nc, "test.op.greet", `[]`, "")
	if env.OK || env.Error.Code != string(xerrors.CodeArgumentMissing) || env.Error.Message != "name must be provided" {
		t.Fatalf("expected missing argument, got %+v", env)
	}

	env = request(t, nc, "test.op.unknown", `[]`, "")
	if env.OK || env.Error.Code != string(xerrors.CodeOperationNotFound) {
		t.Fatalf("expected operation not found, got %+v", env)
	}

	env = request(t, nc, "test.op.greet", `{"name":"x"}`, "")
	if env.OK || env.Error.Code != string(xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %+v", env)
	}
}

func TestAdapterStopsWithContext(t *testing.T) {
	nc := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	adapter := NewAdapter(nc, greetNamespace(t))
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	request(t, nc, adapter.Subject("greet"), `["\"a\""]`, "")

	cancel()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := nc.Request(adapter.Subject("greet"), []byte(`["\"a\""]`), 200*time.Millisecond); err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("adapter still answering after context cancel")
}

func TestStartWithoutConnection(t *testing.T) {
	adapter := NewAdapter(nil, bridge.NewNamespace())
	if err := adapter.Start(context.Background()); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
