// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package metrics wraps a storage.Delegate with Prometheus instrumentation.
//
// Every operation increments keepsake_storage_operations_total and observes
// keepsake_storage_operation_duration_seconds, labelled by operation, type
// and result. The result is "ok", "miss" (nothing matched the key) or "error".
package metrics

import (
	"context"
	"time"

	"github.com/poiesic/keepsake/core"
	"github.com/poiesic/keepsake/storage"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultNamespace = "keepsake"

	ResultOK    = "ok"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Collector holds the metric vectors shared by wrapped delegates.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewCollector creates the metric vectors and registers them with reg.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	labels := []string{"op", "type", "result"}

	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total number of storage delegate operations.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Duration of storage delegate operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.operations, c.duration} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Collector) observe(op, typ, result string, start time.Time) {
	c.operations.WithLabelValues(op, typ, result).Inc()
	c.duration.WithLabelValues(op, typ, result).Observe(time.Since(start).Seconds())
}

// Delegate instruments the delegate it wraps.
type Delegate struct {
	next      storage.Delegate
	collector *Collector
}

var _ storage.Delegate = (*Delegate)(nil)

// Wrap returns an instrumented delegate around next.
func Wrap(next storage.Delegate, collector *Collector) *Delegate {
	return &Delegate{next: next, collector: collector}
}

func result(found bool, err error) string {
	switch {
	case err != nil:
		return ResultError
	case !found:
		return ResultMiss
	default:
		return ResultOK
	}
}

func (d *Delegate) Insert(ctx context.Context, typ string, fields core.Fields) (any, error) {
	start := time.Now()
	key, err := d.next.Insert(ctx, typ, fields)
	d.collector.observe("insert", typ, result(true, err), start)
	return key, err
}

func (d *Delegate) Update(ctx context.Context, typ string, pk storage.PrimaryKey, fields core.Fields) (bool, error) {
	start := time.Now()
	ok, err := d.next.Update(ctx, typ, pk, fields)
	d.collector.observe("update", typ, result(ok, err), start)
	return ok, err
}

func (d *Delegate) Delete(ctx context.Context, typ string, pk storage.PrimaryKey) (bool, error) {
	start := time.Now()
	ok, err := d.next.Delete(ctx, typ, pk)
	d.collector.observe("delete", typ, result(ok, err), start)
	return ok, err
}

func (d *Delegate) FindByPrimaryKey(ctx context.Context, typ string, pk storage.PrimaryKey) (core.Fields, error) {
	start := time.Now()
	fields, err := d.next.FindByPrimaryKey(ctx, typ, pk)
	d.collector.observe("find", typ, result(fields != nil, err), start)
	return fields, err
}

// Close closes the wrapped delegate.
func (d *Delegate) Close() error {
	return d.next.Close()
}
