// Package metrics holds the prometheus instruments for the attendance core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolutions counts capture pipeline outcomes by terminal status.
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_resolutions_total",
		Help: "Capture cycles by terminal status.",
	}, []string{"status"})

	// Commits counts ledger writes by method and outcome.
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_commits_total",
		Help: "Ledger commits by method and outcome.",
	}, []string{"method", "outcome"})
)
