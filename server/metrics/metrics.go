// Package metrics defines prometheus collectors for the chat store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pairchat"

// Metrics holds store counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChannelsCreated        prometheus.Counter
	WriteConflicts         *prometheus.CounterVec
	RegistryInconsistent   prometheus.Counter
	MembershipsHealed      prometheus.Counter
	MessagesAppended       prometheus.Counter
	MalformedSkipped       prometheus.Counter
	SubscriptionsLive      *prometheus.GaugeVec
	SubscriptionDeliveries *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. If reg is nil the
// collectors are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChannelsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_created_total",
			Help:      "Number of channels created by this process.",
		}),
		WriteConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflicts_total",
			Help:      "Concurrent creates resolved by reading the existing record.",
		}, []string{"object"}),
		RegistryInconsistent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_inconsistent_total",
			Help:      "Channels whose membership entries could not be confirmed.",
		}),
		MembershipsHealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memberships_healed_total",
			Help:      "Membership entries written by the reconciler.",
		}),
		MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to channels.",
		}),
		MalformedSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_skipped_total",
			Help:      "Stored records skipped because they could not be decoded.",
		}),
		SubscriptionsLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_live",
			Help:      "Currently active live subscriptions.",
		}, []string{"kind"}),
		SubscriptionDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_deliveries_total",
			Help:      "Snapshots delivered to live subscribers.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.ChannelsCreated, m.WriteConflicts, m.RegistryInconsistent, m.MembershipsHealed,
			m.MessagesAppended, m.MalformedSkipped, m.SubscriptionsLive, m.SubscriptionDeliveries)
	}
	return m
}

// ChannelCreated counts a newly created channel.
func (m *Metrics) ChannelCreated() {
	if m != nil {
		m.ChannelsCreated.Inc()
	}
}

// WriteConflict counts a resolved create race on the given kind of object.
func (m *Metrics) WriteConflict(object string) {
	if m != nil {
		m.WriteConflicts.WithLabelValues(object).Inc()
	}
}

// Inconsistent counts a failure to confirm membership entries.
func (m *Metrics) Inconsistent() {
	if m != nil {
		m.RegistryInconsistent.Inc()
	}
}

// Healed counts membership entries repaired by the reconciler.
func (m *Metrics) Healed(n int) {
	if m != nil && n > 0 {
		m.MembershipsHealed.Add(float64(n))
	}
}

// MessageAppended counts an appended message.
func (m *Metrics) MessageAppended() {
	if m != nil {
		m.MessagesAppended.Inc()
	}
}

// Skipped counts malformed records skipped while reading.
func (m *Metrics) Skipped(n int) {
	if m != nil && n > 0 {
		m.MalformedSkipped.Add(float64(n))
	}
}

// SubscriptionStarted and SubscriptionStopped track live subscriptions of a kind.
func (m *Metrics) SubscriptionStarted(kind string) {
	if m != nil {
		m.SubscriptionsLive.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SubscriptionStopped(kind string) {
	if m != nil {
		m.SubscriptionsLive.WithLabelValues(kind).Dec()
	}
}

// Delivered counts a snapshot delivered to a subscriber.
func (m *Metrics) Delivered(kind string) {
	if m != nil {
		m.SubscriptionDeliveries.WithLabelValues(kind).Inc()
	}
}
