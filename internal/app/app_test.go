package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/directory-sync/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name           string
		cfg            config.Config
		wantName       string
		wantConfigured bool
		wantErr        bool
	}{
		{
			name: "graph с учётными данными",
			cfg: config.Config{
				DirectoryProvider: config.ProviderGraph,
				GraphBaseURL:      "https://graph.example.test/v1.0",
				GraphTokenURL:     "https://login.example.test/token",
				GraphClientID:     "client",
				GraphClientSecret: "secret",
				DirectoryTimeout:  10 * time.Second,
			},
			wantName:       "graph",
			wantConfigured: true,
		},
		{
			name: "graph без секрета",
			cfg: config.Config{
				DirectoryProvider: config.ProviderGraph,
				GraphBaseURL:      "https://graph.example.test/v1.0",
				GraphTokenURL:     "https://login.example.test/token",
				GraphClientID:     "client",
			},
			wantName: "graph",
		},
		{
			name:     "google без ключа",
			cfg:      config.Config{DirectoryProvider: config.ProviderGoogle},
			wantName: "google",
		},
		{
			name:    "неизвестный провайдер",
			cfg:     config.Config{DirectoryProvider: "ldap"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			p, err := NewProvider(context.Background(), &cfg, testLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("ожидалась ошибка, получен nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name: ожидался %s, получен %s", tt.wantName, p.Name())
			}
			if p.Configured() != tt.wantConfigured {
				t.Errorf("Configured: ожидалось %v, получено %v", tt.wantConfigured, p.Configured())
			}
		})
	}
}
