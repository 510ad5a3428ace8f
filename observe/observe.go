// Copyright 2021 Flamego. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package observe decorates a kvsession.Backend with Prometheus metrics and
// OpenTelemetry spans for every backend call.
package observe

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flamego/kvsession"
)

const instrumentationName = "github.com/flamego/kvsession"

// Metrics holds the collectors recorded for backend calls.
type Metrics struct {
	// Operations counts backend calls, labeled by "op" and "result" ("ok",
	// "miss" or "error").
	Operations *prometheus.CounterVec
	// Duration records backend call latency in seconds, labeled by "op".
	Duration *prometheus.HistogramVec
}

// NewMetrics returns the collectors with given namespace, not yet registered.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "operations_total",
			Help:      "Total number of session backend operations",
		}, []string{"op", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "operation_duration_seconds",
			Help:      "Session backend operation latency in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
	}
}

// Config contains options for the observed backend.
type Config struct {
	// Namespace is the namespace of metric names. Default is "kvsession".
	Namespace string
	// Registerer is where the metrics are registered. Default is
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Tracer is used to start spans. Default is the tracer of the global
	// provider.
	Tracer trace.Tracer
}

var (
	_ kvsession.Backend = (*Backend)(nil)
	_ kvsession.GCer    = (*Backend)(nil)
)

// Backend is a kvsession.Backend that records metrics and spans around calls
// to the next backend.
type Backend struct {
	next    kvsession.Backend
	metrics *Metrics
	tracer  trace.Tracer
}

// Wrap returns the next backend decorated with metrics and spans. Metrics that
// are already registered under the same names are reused.
func Wrap(next kvsession.Backend, cfg Config) (*Backend, error) {
	if next == nil {
		return nil, kvsession.ErrNoBackend
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "kvsession"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(instrumentationName)
	}

	metrics := NewMetrics(cfg.Namespace)
	err := cfg.Registerer.Register(metrics.Operations)
	if err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, errors.Wrap(err, "register operations")
		}
		metrics.Operations = are.ExistingCollector.(*prometheus.CounterVec)
	}
	err = cfg.Registerer.Register(metrics.Duration)
	if err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, errors.Wrap(err, "register duration")
		}
		metrics.Duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}

	return &Backend{
		next:    next,
		metrics: metrics,
		tracer:  cfg.Tracer,
	}, nil
}

// Metrics returns the collectors in use.
func (b *Backend) Metrics() *Metrics {
	return b.metrics
}

// observe starts a span for the operation and returns the function to finish
// it with the result. Keys are session IDs and never go onto spans.
func (b *Backend) observe(ctx context.Context, op string) (context.Context, func(result string, err error)) {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "kvsession."+op, trace.WithSpanKind(trace.SpanKindClient))
	return ctx, func(result string, err error) {
		defer span.End()

		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("kvsession.result", result))

		b.metrics.Operations.WithLabelValues(op, result).Inc()
		b.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, done := b.observe(ctx, "get")
	value, ok, err := b.next.Get(ctx, key)
	if ok {
		done("ok", err)
	} else {
		done("miss", err)
	}
	return value, ok, err
}

func (b *Backend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, done := b.observe(ctx, "set")
	err := b.next.Set(ctx, key, value, ttl)
	done("ok", err)
	return err
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	ctx, done := b.observe(ctx, "delete")
	err := b.next.Delete(ctx, key)
	done("ok", err)
	return err
}

// GC forwards to the next backend if it needs GC, and does nothing otherwise.
func (b *Backend) GC(ctx context.Context) error {
	gc, ok := b.next.(kvsession.GCer)
	if !ok {
		return nil
	}

	ctx, done := b.observe(ctx, "gc")
	err := gc.GC(ctx)
	done("ok", err)
	return err
}
