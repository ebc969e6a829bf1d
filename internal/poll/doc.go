// Package poll is the host polling engine.
//
// A HostPool runs one RepeatScheduler per PollJob, at most MaxConcurrency
// at a time. Each scheduler drives a SessionRunner that executes the job's
// command once per tick over a Transport, and every attempt, failed or not,
// becomes a PollResult on the pool's output stream, followed by a single
// end-of-stream marker per host.
//
// The package speaks no protocol itself. Transports live in
// internal/transport; consumers of the stream live in internal/sink.
package poll
