// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package metrics expõe o estado interno do scheduler via Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics agrupa os coletores do scheduler engine.
type Metrics struct {
	RunningTasks      prometheus.Gauge
	QueueLength       prometheus.Gauge
	FinishedTasks     prometheus.Counter
	GCDeletions       prometheus.Counter
	DispatchErrors    prometheus.Counter
	CommandsHandled   *prometheus.CounterVec
	LoopIterationTime prometheus.Histogram
}

// New registra os coletores em reg e retorna o agrupador. Passar um
// registry dedicado (em vez de prometheus.DefaultRegisterer) facilita
// testes que sobem múltiplos schedulers no mesmo processo.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backup_scheduler",
			Name:      "running_tasks",
			Help:      "Number of workers currently running.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "backup_scheduler",
			Name:      "queue_length",
			Help:      "Number of due tasks waiting for a free worker slot.",
		}),
		FinishedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backup_scheduler",
			Name:      "finished_tasks_total",
			Help:      "Total number of FinishedTask records appended (CORRECT or SAME).",
		}),
		GCDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backup_scheduler",
			Name:      "gc_deletions_total",
			Help:      "Total number of orphaned files removed from the backup directory.",
		}),
		DispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backup_scheduler",
			Name:      "dispatch_errors_total",
			Help:      "Total number of worker runs that ended without a CORRECT or SAME sentinel.",
		}),
		CommandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backup_scheduler",
			Name:      "commands_handled_total",
			Help:      "Total number of control commands handled, by status.",
		}, []string{"status"}),
		LoopIterationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "backup_scheduler",
			Name:      "loop_iteration_seconds",
			Help:      "Wall-clock time spent in one scheduler loop iteration (command handling + reap + dispatch).",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.RunningTasks,
		m.QueueLength,
		m.FinishedTasks,
		m.GCDeletions,
		m.DispatchErrors,
		m.CommandsHandled,
		m.LoopIterationTime,
	)

	return m
}
