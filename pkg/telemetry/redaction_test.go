package telemetry

import (
	"strings"
	"testing"
)

func TestOptionAttributesRedactsCredentials(t *testing.T) {
	attrs := OptionAttributes("module.", map[string]any{
		"signing_secret": "hunter2",
		"issuer":         "https://issuer.example.com",
		"audience":       "api",
		"leeway":         30,
	}, "issuer")

	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}

	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}

	if v := got["module.signing_secret"]; !strings.HasPrefix(v, "[REDACTED:hash:") {
		t.Fatalf("expected hashed secret, got %q", v)
	}
	if v := got["module.issuer"]; v != "http***.com" {
		t.Fatalf("unexpected masked issuer %q", v)
	}
	if v := got["module.audience"]; v != "api" {
		t.Fatalf("unexpected audience %q", v)
	}
	if v := got["module.leeway"]; v != "30" {
		t.Fatalf("unexpected leeway %q", v)
	}
}

func TestOptionAttributesEmpty(t *testing.T) {
	if attrs := OptionAttributes("module.", nil); attrs != nil {
		t.Fatalf("expected nil attributes, got %v", attrs)
	}
}
