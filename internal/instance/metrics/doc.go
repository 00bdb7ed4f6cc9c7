// Package metrics samples OS-level resource usage for worker processes.
//
// [PSSampler] issues a single batched ps(1) query per call regardless of
// how many pids are requested, which keeps the supervisor's poll loop cheap
// as the fleet grows. Pids that have exited are simply absent from the
// result.
//
// The [Sampler] interface lets the supervisor be tested with canned usage.
package metrics
