package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

// eventsTotal counts every event published on a Bus, labeled by tag, so an
// operator can graph DHT/gossip/worker activity without subscribing a
// consumer just to count.
var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fluxdag",
		Subsystem: "notify",
		Name:      "events_total",
		Help:      "Total notification bus events published, by tag.",
	},
	[]string{"tag"},
)

func init() {
	prometheus.MustRegister(eventsTotal)
}

// InstrumentedPublish records a Prometheus counter increment before
// delegating to Publish; wire it in place of Publish when metrics are
// wanted without changing subscriber behavior.
func (b *Bus) InstrumentedPublish(e Event) {
	eventsTotal.WithLabelValues(string(e.Tag)).Inc()
	b.Publish(e)
}
