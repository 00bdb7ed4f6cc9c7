// Package process tracks live worker processes and terminates them.
//
// # Main Types
//
//   - [Registry]: the set of live child pids for one engine. It is created
//     by the engine and passed by reference to the agent runner and to the
//     shutdown path; there is no package-level registry.
//   - [Killer]: the termination interface used by the supervisor.
//   - [Signaler]: the default Killer, built on process-group signals.
//
// # Kill Escalation
//
// [Terminate] sends SIGTERM to the worker's process group, falling back to
// the single pid when the group cannot be signalled. If the process is still
// alive after the grace period it sends SIGKILL to the group and the pid.
// Processes that have already exited are ignored, so every kill path is
// idempotent.
//
// Workers must be started with Setpgid so that the pid is also the process
// group id; see [SysProcAttr].
package process
