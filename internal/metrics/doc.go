/*
Package metrics provides Prometheus-based metrics collection covering
the workflow engine, provider adapters, the tiered cache, and output
delivery.

# Overview

The package exposes a single Collector that registers all metrics
against a prometheus.Registerer, grouped per subsystem and namespaced
so several instances can coexist in tests.

# Main capabilities

  - Workflow metrics: execution totals and durations per template,
    step totals/durations/retries per step kind, in-flight gauge.
  - Provider metrics: invocation totals and durations per adapter
    and capability.
  - Cache metrics: hit counts per tier, misses, evictions, resident
    byte gauge.
  - Output metrics: delivery totals per mode and live lease gauge.
*/
package metrics
