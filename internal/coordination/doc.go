// Package coordination provides the shared memory plane that workers use
// to see each other's progress.
//
// [Memory] is the single authoritative in-memory store of named text
// sections:
//
//	directives  corrective instructions from the director
//	status      the board of completed, active, and idle roles
//	learnings   facts extracted from completed work
//	blockers    problems that other roles should know about
//	decisions   the director's decision log
//	<role>      one progress section per active role
//
// Every mutation exports the touched section to <dir>/<section>.md with an
// atomic write, so workers can read the files at any time without seeing a
// partial update. The files are a mirror; nothing is read back from them.
//
// Memory is owned by the engine goroutine and is not safe for concurrent
// mutation.
//
// [Watcher] observes the directory with fsnotify. A worker writing to its
// own <role>.md file is treated as a liveness signal and forwarded to a
// heartbeat callback. Memory's own exports arrive as create and rename
// events and are ignored.
//
// Usage:
//
//	mem, err := coordination.NewMemory(filepath.Join(workDir, ".krenk", "memory"))
//	if err != nil {
//	    return err
//	}
//	mem.AddDirective("Do not touch the public API")
//	brief := mem.FullContext()
package coordination
