package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Team identifies one side of a match
type Team string

// The two sides of a match
const (
	TeamBlue Team = "Blue"
	TeamRed  Team = "Red"
)

// Opponent returns the other side
func (t Team) Opponent() Team {
	if t == TeamBlue {
		return TeamRed
	}
	return TeamBlue
}

// Input is the per-turn request sent to a robot: the full game state as
// the engine serialized it, plus which side the robot plays and the turn
// number. One Input is built per robot per turn and never retained.
type Input struct {
	Turn  int             `json:"turn"`
	Team  Team            `json:"team"`
	State json.RawMessage `json:"state"`
}

// Action is a single unit decision reported by a robot
type Action struct {
	Type      string `json:"type"`
	Direction string `json:"direction,omitempty"`
}

// Output is a robot's reply for one turn
type Output struct {
	Actions map[string]Action `json:"robot_actions"`
	Logs    []string          `json:"logs,omitempty"`
}

// ErrorType classifies a ProgramError
type ErrorType string

// ProgramError types, ordered roughly by when they can occur
const (
	// ErrParse is a malformed robot identifier; fatal before anything starts.
	ErrParse ErrorType = "parse"
	// ErrSpawn means the sandbox or process could not start; fatal, no retry.
	ErrSpawn ErrorType = "spawn"
	// ErrInit means the handshake was malformed or the robot reported its
	// own startup failure; fatal for that robot.
	ErrInit ErrorType = "init"
	// ErrTimeout means a single turn exceeded its deadline; terminal for
	// the runner.
	ErrTimeout ErrorType = "timeout"
	// ErrIO means a stream closed or broke mid-protocol; terminal for the
	// runner.
	ErrIO ErrorType = "io"
	// ErrRuntime is a per-turn failure the robot reported itself; the
	// runner stays usable.
	ErrRuntime ErrorType = "runtime"
)

// ProgramError is a structured robot failure. It crosses the wire (robots
// report init and runtime errors themselves) and is surfaced to the match
// driver tagged with the side that produced it; the core never swallows
// one.
type ProgramError struct {
	Type       ErrorType `json:"type"`
	Summary    string    `json:"summary"`
	Details    string    `json:"details,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Team       Team      `json:"team,omitempty"`
}

func (e *ProgramError) Error() string {
	msg := fmt.Sprintf("%s error", e.Type)
	if e.Team != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Team)
	}
	if e.Summary != "" {
		msg += ": " + e.Summary
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Type == ErrTimeout && e.DurationMS > 0 {
		msg = fmt.Sprintf("%s: no response within %dms", msg, e.DurationMS)
	}
	return msg
}

// Duration returns the timeout that expired, for ErrTimeout
func (e *ProgramError) Duration() time.Duration {
	return time.Duration(e.DurationMS) * time.Millisecond
}

// WithTeam returns a copy of the error attributed to a side
func (e *ProgramError) WithTeam(team Team) *ProgramError {
	out := *e
	out.Team = team
	return &out
}

func initError(summary, details string) *ProgramError {
	return &ProgramError{Type: ErrInit, Summary: summary, Details: details}
}

func spawnError(summary string, err error) *ProgramError {
	pe := &ProgramError{Type: ErrSpawn, Summary: summary}
	if err != nil {
		pe.Details = err.Error()
	}
	return pe
}

func timeoutError(d time.Duration) *ProgramError {
	return &ProgramError{Type: ErrTimeout, Summary: "turn timed out", DurationMS: d.Milliseconds()}
}

func ioError(summary string, err error) *ProgramError {
	pe := &ProgramError{Type: ErrIO, Summary: summary}
	if err != nil {
		pe.Details = err.Error()
	}
	return pe
}

// handshake is the one-time line a robot must write before reading any
// input: {"status":"ok"} or {"status":"error","error":{...}}.
type handshake struct {
	Status string        `json:"status"`
	Error  *ProgramError `json:"error,omitempty"`
}

// turnReply is a robot's response line for one turn: an Output object, or
// {"error":{...}} for a robot-reported failure.
type turnReply struct {
	Actions map[string]Action `json:"robot_actions"`
	Logs    []string          `json:"logs,omitempty"`
	Error   *ProgramError     `json:"error,omitempty"`
}

// codec frames line-delimited JSON over a robot's standard streams. One
// message per line; a write is always flushed before the matching read.
type codec struct {
	w *bufio.Writer
	r *bufio.Reader
}

func newCodec(w io.Writer, r io.Reader) *codec {
	return &codec{w: bufio.NewWriter(w), r: bufio.NewReader(r)}
}

func (c *codec) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cannot encode message: %w", err)
	}
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *codec) readLine(v any) error {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			// A final unterminated line is still a message.
		} else {
			return err
		}
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("cannot decode line %q: %w", truncate(line, 120), err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
