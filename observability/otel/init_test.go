package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer abc ,broken, =skip,x-team=funds")
	if len(headers) != 2 {
		t.Fatalf("expected two headers, got %v", headers)
	}
	if headers["authorization"] != "Bearer abc" || headers["x-team"] != "funds" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to be rejected")
	}
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "fundsctl"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if Tracer() == nil {
		t.Fatalf("expected tracer")
	}
}
