package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики синхронизации.
var (
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ds_sync_runs_total",
			Help: "Количество запусков синхронизации по типу и итоговому статусу",
		},
		[]string{"type", "status"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ds_sync_duration_seconds",
			Help:    "Длительность запуска синхронизации",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s … ~17m
		},
		[]string{"type"},
	)

	syncAccountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ds_sync_accounts_total",
			Help: "Результаты обработки аккаунтов (created, updated, skipped, failed, deactivated)",
		},
		[]string{"action"},
	)

	loginSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ds_login_sync_total",
			Help: "Синхронизации при входе по исходу (allowed, rejected, degraded, local, throttled)",
		},
		[]string{"outcome"},
	)
)
