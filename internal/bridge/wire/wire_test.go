package wire

import (
	"encoding/json"
	"testing"

	"HostBridge/internal/bridge"
	xerrors "HostBridge/internal/errors"
)

func TestParseArgsKinds(t *testing.T) {
	args, err := ParseArgs([]byte(`["{\"id\":1}", null, 42, {"a":1}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []bridge.ArgKind{bridge.ArgText, bridge.ArgAbsent, bridge.ArgOther, bridge.ArgOther}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %d", len(want), len(args))
	}
	for i, kind := range want {
		if args[i].Kind() != kind {
			t.Fatalf("arg %d: expected %s, got %s", i, kind, args[i].Kind())
		}
	}
	text, _ := args[0].Text()
	if text != `{"id":1}` {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestParseArgsEmptyAndInvalid(t *testing.T) {
	args, err := ParseArgs([]byte("  "))
	if err != nil || len(args) != 0 {
		t.Fatalf("empty body should yield no args, got %v %v", args, err)
	}
	if _, err := ParseArgs([]byte(`{"not":"array"}`)); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestEncodeArgsRoundTrip(t *testing.T) {
	body, err := EncodeArgs(map[string]int{"id": 1}, nil, "hello")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	call, err := ParseCall(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	type req struct {
		ID int `json:"id"`
	}
	got, err := bridge.Decode[req](call, 0, "request")
	if err != nil || got.ID != 1 {
		t.Fatalf("decode request: %+v %v", got, err)
	}
	if _, err := bridge.Decode[string](call, 1, "missing"); err == nil || err.Error() != "missing must be provided" {
		t.Fatalf("expected missing, got %v", err)
	}
	s, err := bridge.Decode[string](call, 2, "text")
	if err != nil || s != "hello" {
		t.Fatalf("decode text: %q %v", s, err)
	}
}

func TestFromResult(t *testing.T) {
	ok := FromResult("r1", bridge.Result{Value: map[string]bool{"ok": true}})
	data, _ := json.Marshal(ok)
	if string(data) != `{"id":"r1","ok":true,"result":{"ok":true}}` {
		t.Fatalf("unexpected envelope %s", data)
	}
	failed := FromResult("", bridge.Result{Err: &bridge.CallError{Code: xerrors.CodeStorageFailure, Message: "down"}})
	if failed.OK || failed.Error == nil || failed.Error.Code != "STORAGE_FAILURE" || !failed.Error.Retryable {
		t.Fatalf("unexpected failure envelope %+v", failed)
	}
}
