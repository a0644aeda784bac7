package otelexport

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNew_EmptyEndpoint(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestResourceAttributes_Defaults(t *testing.T) {
	attrs := resourceAttributes(Config{})
	got := map[attribute.Key]string{}
	for _, kv := range attrs {
		got[kv.Key] = kv.Value.AsString()
	}
	if got["service.name"] != "luxbot" {
		t.Errorf("service.name = %q", got["service.name"])
	}
	if got["service.version"] != "dev" {
		t.Errorf("service.version = %q", got["service.version"])
	}
	if _, ok := got["luxbot.session"]; ok {
		t.Error("session attribute set without session id")
	}
}

func TestResourceAttributes_Session(t *testing.T) {
	attrs := resourceAttributes(Config{ServiceName: "bot", SessionID: "main", Version: "1.2.3"})
	found := false
	for _, kv := range attrs {
		if kv.Key == "luxbot.session" && kv.Value.AsString() == "main" {
			found = true
		}
	}
	if !found {
		t.Errorf("attrs = %v", attrs)
	}
}

func TestShutdown_Nil(t *testing.T) {
	var e *Exporter
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
