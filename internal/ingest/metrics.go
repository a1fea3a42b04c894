package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sessionsStagedTotal counts upload sessions created by upload_init.
	sessionsStagedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdesk_upload_sessions_staged_total",
			Help: "Total number of upload sessions staged",
		},
		[]string{"dataset"},
	)

	// rowsIngestedTotal counts rows written to the table by chunk calls.
	rowsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdesk_rows_ingested_total",
			Help: "Total number of rows inserted or updated during ingestion",
		},
		[]string{"dataset"},
	)

	// rowsSkippedTotal counts rows dropped for an empty natural key.
	rowsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdesk_rows_skipped_total",
			Help: "Total number of rows skipped for a missing natural key",
		},
		[]string{"dataset"},
	)

	// duplicatesResolvedTotal counts duplicate rows by chosen resolution.
	duplicatesResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdesk_duplicates_resolved_total",
			Help: "Total number of duplicate rows resolved, by resolution",
		},
		[]string{"dataset", "resolution"},
	)

	// uploadsCompletedTotal counts sessions that reached the terminal state.
	uploadsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refdesk_uploads_completed_total",
			Help: "Total number of upload sessions that completed ingestion",
		},
		[]string{"dataset"},
	)
)
