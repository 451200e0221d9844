// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exports workflow progress as prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudwego/ticketflow/internal/workflow"
)

const namespace = "ticketflow"

// Metrics implements workflow.Observer.
type Metrics struct {
	reg *prometheus.Registry

	tickets       *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	attempts      prometheus.Histogram
	inFlight      prometheus.Gauge
}

var _ workflow.Observer = (*Metrics)(nil)

// New registers the collectors on a fresh registry, together with the go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		tickets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_total",
			Help:      "Tickets that reached a terminal state, by outcome",
		}, []string{"outcome", "category"}),
		stageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "failures_total",
			Help:      "Collaborator calls that failed and were replaced by a fallback",
		}, []string{"stage"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Collaborator call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage", "status"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State machine transitions",
		}, []string{"from", "to"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ticket_attempts",
			Help:      "Generation attempts per terminal ticket",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tickets_in_flight",
			Help:      "Tickets currently being processed",
		}),
	}
}

func (m *Metrics) OnStage(ticketID string, stage workflow.Stage, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.stageFailures.WithLabelValues(string(stage)).Inc()
	}
	m.stageDuration.WithLabelValues(string(stage), status).Observe(took.Seconds())
}

func (m *Metrics) OnTransition(ticketID string, from, to workflow.State) {
	if from == workflow.StateIngested {
		m.inFlight.Inc()
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) OnTerminal(rec *workflow.Record) {
	m.inFlight.Dec()
	outcome := "finalized"
	if rec.Escalated {
		outcome = "escalated"
	}
	m.tickets.WithLabelValues(outcome, rec.Category).Inc()
	m.attempts.Observe(float64(rec.AttemptCount))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
