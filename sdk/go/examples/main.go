package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"HostBridge/internal/api"
	"HostBridge/internal/bridge"
	"HostBridge/internal/kv"
	"HostBridge/sdk/go/hostbridge"
)

func main() {
	ns := bridge.NewNamespace()
	if err := kv.NewModule(kv.NewMemoryBackend()).Register(ns); err != nil {
		panic(err)
	}
	ns.Seal()

	srv := httptest.NewServer(api.NewServer(":0", ns).Handler())
	defer srv.Close()

	client, err := hostbridge.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ops, err := client.Operations(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("server exposes %d operations\n", len(ops))

	entry := map[string]any{"key": "greeting", "value": "hello", "ttl_ms": 60000}
	if err := client.Call(ctx, "kv_set", nil, entry); err != nil {
		panic(err)
	}

	var got struct {
		Value *string `json:"value"`
		Found bool    `json:"found"`
	}
	if err := client.Call(ctx, "kv_get", &got, "greeting"); err != nil {
		panic(err)
	}
	fmt.Printf("kv_get greeting -> found=%v value=%s\n", got.Found, *got.Value)

	if err := client.Call(ctx, "kv_get", nil, nil); err != nil {
		fmt.Printf("absent argument rejected: %v\n", err)
	}
}
