package contextkeys

import (
	"context"
	"testing"
)

func TestBearerTokenRoundTrip(t *testing.T) {
	ctx := WithBearerToken(context.Background(), "oat_abc")
	if got := BearerTokenFrom(ctx); got != "oat_abc" {
		t.Errorf("expected oat_abc, got %q", got)
	}

	if got := BearerTokenFrom(context.Background()); got != "" {
		t.Errorf("expected empty token from bare context, got %q", got)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestIDFrom(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}

	if got := RequestIDFrom(context.Background()); got != "" {
		t.Errorf("expected empty id from bare context, got %q", got)
	}
}

func TestPrincipalStorage(t *testing.T) {
	type principal struct{ UserID string }

	p := &principal{UserID: "user-1"}
	ctx := WithPrincipal(context.Background(), p)

	got, ok := ctx.Value(PrincipalKey).(*principal)
	if !ok || got.UserID != "user-1" {
		t.Errorf("unexpected principal: %+v ok=%v", got, ok)
	}
}
