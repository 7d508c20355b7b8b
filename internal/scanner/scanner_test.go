package scanner

import (
	"context"
	"errors"
	"testing"

	"NewsDesk/internal/domain"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Scan(context.Context, Request) ([]domain.NewsItem, error) {
	return []domain.NewsItem{{ID: s.name}}, nil
}

func TestRegistryBuild(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.RegisterProvider(stubProvider{name: "static"})
	reg.Register("configured", func(opts map[string]string) (Provider, error) {
		if opts["selector"] == "" {
			return nil, errors.New("selector required")
		}
		return stubProvider{name: "configured"}, nil
	})

	if got := reg.Names(); len(got) != 2 || got[0] != "configured" || got[1] != "static" {
		t.Fatalf("unexpected names: %v", got)
	}

	p, err := reg.Build("static", nil)
	if err != nil || p.Name() != "static" {
		t.Fatalf("build static: %v %v", p, err)
	}

	if _, err := reg.Build("configured", nil); err == nil {
		t.Fatal("expected constructor error")
	}
	if _, err := reg.Build("configured", map[string]string{"selector": "li"}); err != nil {
		t.Fatalf("build configured: %v", err)
	}
	if _, err := reg.Build("missing", nil); err == nil {
		t.Fatal("expected unknown provider error")
	}
}
