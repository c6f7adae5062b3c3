// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/netSkope/upload-export/internal/apperr"
)

// Metrics contains Prometheus metrics for exports. A nil *Metrics records
// nothing.
type Metrics struct {
	exports  *prometheus.CounterVec
	rows     prometheus.Counter
	bytes    prometheus.Counter
	duration prometheus.Histogram
	inFlight prometheus.Gauge
}

// NewMetrics registers the export collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		exports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_export_exports_total",
				Help: "Total number of exports by result",
			},
			[]string{"result"},
		),

		rows: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_export_rows_total",
			Help: "Total number of rows written to exported CSV files",
		}),

		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_export_bytes_total",
			Help: "Total number of CSV bytes streamed to object storage",
		}),

		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_export_duration_seconds",
			Help:    "Duration of exports in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "upload_export_max_in_flight_rows",
			Help: "Peak number of rows held in memory by the last export",
		}),
	}
}

// resultLabel maps an export outcome to the "result" label.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return "validation_error"
	case apperr.KindStore:
		return "store_error"
	case apperr.KindUpload:
		return "upload_error"
	}
	return "error"
}

func (m *Metrics) observe(res Result, err error) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(resultLabel(err)).Inc()
	m.duration.Observe(res.Duration.Seconds())
	if err == nil {
		m.rows.Add(float64(res.Rows))
		m.bytes.Add(float64(res.Bytes))
	}
	m.inFlight.Set(float64(res.MaxInFlightRows))
}
