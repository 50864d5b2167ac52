// Package metrics exposes Prometheus counters for the harvester.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HashesComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_hashes_computed_total",
		Help: "Total proof-of-work hashes computed.",
	})

	SolutionsFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_solutions_found_total",
		Help: "Solutions found and durably queued.",
	})

	SubmissionsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_submissions_confirmed_total",
		Help: "Solutions confirmed accepted by the coordinator.",
	})

	SubmissionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_submission_retries_total",
		Help: "Submission attempts that failed with a retryable error.",
	})

	ChallengeRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_challenge_rotations_total",
		Help: "Times the active challenge changed mid-round.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
