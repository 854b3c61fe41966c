// Package metrics exposes bridge counters in the Prometheus text exposition
// format.
//
// Key metrics:
//   - Active and lifetime channel counts, displacement count
//   - Message throughput in both directions
//   - Rejected client messages (validation, unknown client, overflow)
package metrics

import (
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Snapshot is one observation of the bridge's counters. Counter fields hold
// lifetime totals; ActiveChannels is a gauge.
type Snapshot struct {
	ActiveChannels float64
	ChannelsTotal  float64
	Displaced      float64
	MessagesIn     float64
	MessagesOut    float64
	RejectedPosts  float64
}

// Handler returns an http.Handler that serves the Prometheus text format,
// pulling a fresh Snapshot from source on every scrape.
func Handler(source func() Snapshot) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))

		enc := expfmt.NewEncoder(w, format)
		for _, mf := range families(source()) {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("metrics encode failed", "error", err)
				return
			}
		}
	})
}

func families(s Snapshot) []*dto.MetricFamily {
	return []*dto.MetricFamily{
		gauge("ssebridge_channels_active",
			"Number of currently active channels.", s.ActiveChannels),
		counter("ssebridge_channels_accepted_total",
			"Channels accepted since startup.", s.ChannelsTotal),
		counter("ssebridge_channels_displaced_total",
			"Channels torn down by a reconnect under the same client id.", s.Displaced),
		counter("ssebridge_messages_in_total",
			"Client messages accepted for delivery.", s.MessagesIn),
		counter("ssebridge_messages_out_total",
			"Frames written to client streams.", s.MessagesOut),
		counter("ssebridge_messages_rejected_total",
			"Client messages rejected before delivery.", s.RejectedPosts),
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}},
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: &v}}},
	}
}
