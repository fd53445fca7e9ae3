package env_test

import (
	"context"
	"testing"

	"github.com/mlld-lang/mlld/internal/env"
)

func TestResolverRegistry(t *testing.T) {
	reg := env.NewResolverRegistry()
	if reg.Has("time") {
		t.Fatal("Has() should be false before Register")
	}

	reg.Register("time", func() (env.Resolver, error) {
		return stubResolver{content: "now"}, nil
	})
	if !reg.Has("time") {
		t.Fatal("Has() should be true after Register")
	}

	got, err := reg.Resolve(context.Background(), "time", "@TIME")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Content != "now" {
		t.Fatalf("Resolve() content = %q, want %q", got.Content, "now")
	}
}

func TestResolverRegistryUnregisteredName(t *testing.T) {
	reg := env.NewResolverRegistry()
	if _, err := reg.Resolve(context.Background(), "nope", "x"); err == nil {
		t.Fatal("expected error resolving an unregistered resolver name")
	}
}

type stubResolver struct{ content string }

func (s stubResolver) Resolve(ctx context.Context, ref string) (env.ResolvedContent, error) {
	return env.ResolvedContent{Content: s.content}, nil
}
