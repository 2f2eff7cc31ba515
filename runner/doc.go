// Package runner executes robot programs and exchanges turns with them.
//
// The runner package is the execution and protocol layer of a match. A
// Runner drives exactly one robot, either inside a fully isolated
// WebAssembly sandbox or as an ordinary external process, over a
// line-delimited JSON protocol on the robot's standard streams: one
// handshake line at startup, then one request and one response line per
// turn. Both backends sit behind the same single-capability interface,
// and an optional per-turn timeout composes around either one.
//
// A Runner is not safe for concurrent turns; the match driver issues
// turn n+1 only after turn n's result, timeout or fault is observed. Any
// timeout or stream failure is terminal: the Runner stays faulted and
// every later call fails fast, while the opponent's Runner is unaffected.
//
// Usage:
//
//	r, err := runner.FromIdentity(ctx, deps, id, runner.WithTimeout(time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//	out, err := r.ExecuteTurn(ctx, &runner.Input{Turn: 1, Team: runner.TeamBlue})
package runner
