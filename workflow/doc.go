// Package workflow orchestrates multi-step content-generation runs:
// a validated step DAG, a ready-set scheduler with bounded concurrent
// dispatch, per-step retry with capped exponential backoff, optional
// steps, cooperative cancellation, and durable per-transition
// persistence with resume. The template library ships the builtin
// generation pipelines and interpolates {{name}} placeholders into
// step parameters.
package workflow
