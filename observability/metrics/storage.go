// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import "time"

// StorageMetrics wraps a Collector with the counters/histograms every
// storage adapter reports: operation totals by (adapter, op, outcome),
// operation latency, and a counter for calls rejected because the adapter
// doesn't support the requested capability.
type StorageMetrics struct {
	collector Collector
}

// NewStorageMetrics wraps collector with storage-operation instrumentation.
func NewStorageMetrics(collector Collector) *StorageMetrics {
	return &StorageMetrics{collector: collector}
}

// RecordOperation records one adapter call's outcome and latency.
func (m *StorageMetrics) RecordOperation(adapter, op, outcome string, elapsed time.Duration) {
	labels := NewLabels("adapter", adapter, "op", op, "outcome", outcome)
	m.collector.IncrementCounter("storage_operation_total", labels)
	m.collector.ObserveHistogram("storage_operation_duration_ms", float64(elapsed.Milliseconds()), NewLabels("adapter", adapter, "op", op))
}

// RecordUnsupported records a call rejected because the adapter does not
// implement the requested capability.
func (m *StorageMetrics) RecordUnsupported(adapter, capability string) {
	m.collector.IncrementCounter("storage_unsupported_total", NewLabels("adapter", adapter, "capability", capability))
}

// SetConnectionPoolSize reports the current size of a network adapter's
// connection pool.
func (m *StorageMetrics) SetConnectionPoolSize(adapter string, size int) {
	m.collector.SetGauge("storage_pool_connections", float64(size), NewLabels("adapter", adapter))
}

// RecordDecayPass records one ApplyDecay pass's outcome counts.
func (m *StorageMetrics) RecordDecayPass(adapter string, processed, decayed, removed int) {
	labels := NewLabels("adapter", adapter)
	m.collector.AddCounter("storage_decay_processed_total", float64(processed), labels)
	m.collector.AddCounter("storage_decay_decayed_total", float64(decayed), labels)
	m.collector.AddCounter("storage_decay_removed_total", float64(removed), labels)
}
