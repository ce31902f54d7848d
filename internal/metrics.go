package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics are process-wide counters exposed as JSON on /metrics.
type Metrics struct {
	signups     atomic.Uint64
	logins      atomic.Uint64
	activeConns atomic.Int64

	messagesPersisted atomic.Uint64
	broadcasts        atomic.Uint64
	deliveries        atomic.Uint64
	framesDropped     atomic.Uint64
	pushFailures      atomic.Uint64
	relayFailures     atomic.Uint64

	// fixed at construction, only the counters change
	inboundErrors map[ErrorKind]*atomic.Uint64

	rooms       func() int
	onlineUsers func() int
}

func NewMetrics() *Metrics {
	m := &Metrics{inboundErrors: make(map[ErrorKind]*atomic.Uint64, len(errorKinds))}
	for _, kind := range errorKinds {
		m.inboundErrors[kind] = new(atomic.Uint64)
	}
	return m
}

func (m *Metrics) IncSignup() {
	m.signups.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncPersisted() {
	m.messagesPersisted.Add(1)
}

func (m *Metrics) ObserveBroadcast(delivered int) {
	m.broadcasts.Add(1)
	m.deliveries.Add(uint64(delivered))
}

func (m *Metrics) IncDropped() {
	m.framesDropped.Add(1)
}

func (m *Metrics) IncPushFailure() {
	m.pushFailures.Add(1)
}

func (m *Metrics) IncRelayFailure() {
	m.relayFailures.Add(1)
}

func (m *Metrics) IncInboundError(kind ErrorKind) {
	if counter, ok := m.inboundErrors[kind]; ok {
		counter.Add(1)
	}
}

func (m *Metrics) InboundErrors(kind ErrorKind) uint64 {
	if counter, ok := m.inboundErrors[kind]; ok {
		return counter.Load()
	}
	return 0
}

func (m *Metrics) ActiveConns() int64 {
	return m.activeConns.Load()
}

func (m *Metrics) Snapshot() map[string]any {
	errs := make(map[string]uint64, len(m.inboundErrors))
	for kind, counter := range m.inboundErrors {
		errs[string(kind)] = counter.Load()
	}
	payload := map[string]any{
		"signups_total":            m.signups.Load(),
		"logins_total":             m.logins.Load(),
		"active_connections":       m.activeConns.Load(),
		"messages_persisted_total": m.messagesPersisted.Load(),
		"broadcasts_total":         m.broadcasts.Load(),
		"deliveries_total":         m.deliveries.Load(),
		"frames_dropped_total":     m.framesDropped.Load(),
		"push_failures_total":      m.pushFailures.Load(),
		"relay_failures_total":     m.relayFailures.Load(),
		"inbound_errors_total":     errs,
	}
	if m.rooms != nil {
		payload["active_rooms"] = m.rooms()
	}
	if m.onlineUsers != nil {
		payload["online_users"] = m.onlineUsers()
	}
	return payload
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
