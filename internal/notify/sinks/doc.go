// Package sinks contains the notification delivery backends: structured
// logs, Prometheus counters, websocket broadcast, and Pub/Sub export.
package sinks
