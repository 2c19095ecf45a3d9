// Package controller wires the PangolinIngress reconciler into a
// controller-runtime manager.
//
// PangolinIngressReconciler derives the lifecycle event from the object it
// is given:
//
//   - deletion timestamp set with the cleanup finalizer present: Delete
//   - no status.appliedSpec yet: Create
//   - status.appliedSpec differs from spec: Update, with appliedSpec as the old spec
//
// Engine failures are mapped to results. Invalid specs are terminal,
// transient failures and exhausted retries are requeued after a delay, and
// anything else goes back to the workqueue's rate limiter.
//
// # Endpoints
//
// The metrics server exposes Prometheus metrics on /metrics and the
// lifecycle counters as JSON on /counters. The health probe server answers
// /healthz and /readyz by pinging the Pangolin API.
package controller
