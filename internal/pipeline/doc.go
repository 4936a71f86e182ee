// Package pipeline creates the pipelines mounts are configured with.
//
// A mount entry names a pipeline type; the factory registered for that type
// builds the pipeline from the entry. Factories register explicitly through
// internal/registration rather than from init functions.
//
// # Webhook Contract
//
// The webhook pipeline forwards calls to a pipeline hosted elsewhere, in the
// same wire format the gateway serves:
//
//	POST <url>/invoke
//	Content-Type: application/json
//
//	{"input": ..., "config": {"tags": [...], "metadata": {...}, "run_name": "...", "configurable": {...}}}
//
// Response:
//
//	{"output": ...}
//
// Batch calls go to <url>/batch with {"inputs": [...]} and accept either
// {"outputs": [...], "errors": [...]} or {"output": [...]}. A non-2xx
// status fails the call with the remote error message.
package pipeline
