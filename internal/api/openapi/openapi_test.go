package openapi

import (
	"context"
	"testing"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	paths := []string{
		"/health/live",
		"/health/ready",
		"/metrics",
		"/api/v1/directory/sync",
		"/api/v1/directory/runs",
		"/api/v1/directory/runs/{id}",
		"/api/v1/directory/status",
		"/api/v1/directory/login-sync",
	}
	for _, p := range paths {
		if doc.Paths.Find(p) == nil {
			t.Errorf("путь %s отсутствует в контракте", p)
		}
	}
}

func TestSpec_NotEmpty(t *testing.T) {
	if len(Spec()) == 0 {
		t.Fatal("встроенный контракт пуст")
	}
}
