// Package detect classifies the health of a supervised worker process from
// its resource usage and activity timestamps.
//
// # Main Types
//
//   - [Thresholds]: hard limits for memory, runtime, and hang time, plus the
//     softer hang-warning limit and the warning ratio
//   - [HealthDetector]: stateless classifier built from Thresholds
//   - [Assessment]: the resulting [Status] and a human-readable reason
//
// # Classification
//
// A process is [StatusCritical] when any hard limit is exceeded. Checks run
// in priority order: memory, runtime, hang. Otherwise it is [StatusWarning]
// when any measure exceeds WarnRatio of its limit, or when it has been idle
// longer than HangWarning. Everything else is [StatusHealthy].
//
// The detector holds no per-process state; callers (the supervisor) track
// spawn and activity times and the one-shot warned flag themselves.
package detect
