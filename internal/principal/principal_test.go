package principal

import (
	"context"
	"testing"
)

func TestEmptyContext_ReturnsEmptyValues(t *testing.T) {
	ctx := context.Background()
	if got := Secret(ctx); got != "" {
		t.Errorf("Secret() = %q, want empty", got)
	}
	if got := UserID(ctx); got != "" {
		t.Errorf("UserID() = %q, want empty", got)
	}
}

func TestWith_StoresBoth(t *testing.T) {
	ctx := With(context.Background(), "s3cr3t", "user-1")
	if got := Secret(ctx); got != "s3cr3t" {
		t.Errorf("Secret() = %q, want %q", got, "s3cr3t")
	}
	if got := UserID(ctx); got != "user-1" {
		t.Errorf("UserID() = %q, want %q", got, "user-1")
	}
}

func TestWithSecret_OverridesPrevious(t *testing.T) {
	ctx := WithSecret(context.Background(), "old")
	ctx = WithSecret(ctx, "new")
	if got := Secret(ctx); got != "new" {
		t.Errorf("Secret() = %q, want %q", got, "new")
	}
}
