package sinks

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blogreach/blogreach/internal/notify"
)

// PrometheusSink exports notification counters. Send outcomes are derived
// from log-kind events so the one event stream feeds both delivery and
// metrics.
type PrometheusSink struct {
	notifications *prometheus.CounterVec
	sendResults   *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogreach_notifications_total",
			Help: "Notifications emitted partitioned by kind and severity.",
		}, []string{"kind", "severity"}),
		sendResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogreach_message_sends_total",
			Help: "Message send attempts partitioned by result.",
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{s.notifications, s.sendResults} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register notify collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. Safe for
// concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		s.notifications.WithLabelValues(string(evt.Kind), string(evt.Severity)).Inc()
		if evt.Kind != notify.KindLog {
			continue
		}
		switch {
		case evt.Severity == notify.SeveritySuccess:
			s.sendResults.WithLabelValues("success").Inc()
		case strings.Contains(evt.Message, "[SPAM ALERT]"):
			s.sendResults.WithLabelValues("cooldown").Inc()
		case evt.Severity == notify.SeverityError:
			s.sendResults.WithLabelValues("error").Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
