package paramdoc

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeJSONWithUseNumber(t *testing.T) {
	decoder := New(WithUseNumber())
	document, err := decoder.Decode(Context{Scope: "global"}, "json", []byte(`{"retries": 3, "timeout": 1.5}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	retries, ok := document["retries"].(json.Number)
	if !ok {
		t.Fatalf("expected json.Number, got %T", document["retries"])
	}
	if retries.String() != "3" {
		t.Fatalf("expected digits preserved, got %s", retries)
	}
}

func TestDecodeYAML(t *testing.T) {
	decoder := New()
	document, err := decoder.Decode(Context{Scope: "global"}, "yaml", []byte("logging:\n  level: warn\nworkers: 8\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	logging, ok := document["logging"].(map[string]any)
	if !ok || logging["level"] != "warn" {
		t.Fatalf("expected nested mapping, got %v", document["logging"])
	}
	if document["workers"] != 8 {
		t.Fatalf("expected workers=8, got %v", document["workers"])
	}
}

func TestDecodeSniffsFormat(t *testing.T) {
	decoder := New()

	document, err := decoder.Decode(Context{}, "", []byte(`  {"a": 1}`))
	if err != nil {
		t.Fatalf("sniff json: %v", err)
	}
	if _, ok := document["a"]; !ok {
		t.Fatalf("expected json payload to decode, got %v", document)
	}

	document, err = decoder.Decode(Context{}, "", []byte("a: 1\n"))
	if err != nil {
		t.Fatalf("sniff yaml: %v", err)
	}
	if _, ok := document["a"]; !ok {
		t.Fatalf("expected yaml payload to decode, got %v", document)
	}
}

func TestDecodeRejectsUnsupportedFormat(t *testing.T) {
	decoder := New()
	if _, err := decoder.Decode(Context{Scope: "global"}, "toml", []byte("a = 1")); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestDecodeEmptyPayloadYieldsEmptyDocument(t *testing.T) {
	decoder := New()
	document, err := decoder.Decode(Context{}, "yaml", nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if document == nil || len(document) != 0 {
		t.Fatalf("expected empty document, got %v", document)
	}
}

func TestDecodeAttributesErrorsToScope(t *testing.T) {
	decoder := New()
	_, err := decoder.Decode(Context{Scope: "production"}, "json", []byte(`{"broken":`))
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if !strings.Contains(err.Error(), `"production"`) {
		t.Fatalf("expected scope attribution, got %v", err)
	}
}

func TestDecodeRunsHooksInOrder(t *testing.T) {
	decoder := New(
		WithPreHook(func(_ Context, content []byte) ([]byte, error) {
			return []byte(strings.ReplaceAll(string(content), "LEGACY", "42")), nil
		}),
		WithPostHook(func(_ Context, document map[string]any) (map[string]any, error) {
			document["stamped"] = true
			return document, nil
		}),
	)

	document, err := decoder.Decode(Context{Scope: "global"}, "json", []byte(`{"value": LEGACY}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if document["stamped"] != true {
		t.Fatalf("post hook did not run: %v", document)
	}
	if document["value"] != float64(42) {
		t.Fatalf("pre hook did not rewrite payload: %v", document["value"])
	}
}

func TestDecodeHookFailureIsAttributed(t *testing.T) {
	wantErr := errors.New("legacy payload rejected")
	decoder := New(WithPreHook(func(Context, []byte) ([]byte, error) {
		return nil, wantErr
	}))

	_, err := decoder.Decode(Context{Scope: "global"}, "json", []byte(`{}`))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
}
