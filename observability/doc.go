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

// Package observability provides the metrics and logging sinks used across
// the storage module's adapters.
//
// # Overview
//
// The storage providers take no logger or collector and do not import these
// packages; a caller that wants instrumentation builds a logging.Logger and
// a metrics.Collector (with metrics.StorageMetrics for storage operations)
// and reports through them. This package owns only that sink configuration;
// it has no HTTP surface of its own.
//
// # Metrics
//
//	collector := metrics.NewPrometheusCollector()
//	collector.IncrementCounter("storage_op_total", metrics.NewLabels("op", "get", "adapter", "postgres"))
//	http.Handle("/metrics", collector.Handler())
//
// # Logging
//
// Structured logging with context propagation:
//
//	logger := logging.NewStructuredLogger(logging.LevelInfo)
//
//	ctx := logging.WithRequestID(ctx, "req-123")
//	logger.Info(ctx, "memory recalled",
//	    logging.String("user_id", "u-1"),
//	    logging.Int("result_count", 7),
//	)
package observability
