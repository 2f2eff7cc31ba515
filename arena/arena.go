package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/botbox/runner"
)

// Engine is the turn-simulation collaborator: it produces the initial
// game state and folds both robots' outputs into the next state. The
// real engine is external to this system.
type Engine interface {
	Initial() json.RawMessage
	Apply(state json.RawMessage, outputs map[runner.Team]*runner.Output) (json.RawMessage, error)
}

// PassEngine is the built-in placeholder engine: state passes through
// unchanged. It lets the CLI exercise full matches without game rules.
type PassEngine struct {
	State json.RawMessage
}

func (e PassEngine) Initial() json.RawMessage {
	if e.State == nil {
		return json.RawMessage(`{}`)
	}
	return e.State
}

func (e PassEngine) Apply(state json.RawMessage, _ map[runner.Team]*runner.Output) (json.RawMessage, error) {
	return state, nil
}

// TurnRecord is what one completed round looked like, delivered to the
// turn callback for display or streaming.
type TurnRecord struct {
	Turn    int                                  `json:"turn"`
	State   json.RawMessage                      `json:"state"`
	Outputs map[runner.Team]*runner.Output       `json:"outputs,omitempty"`
	Errors  map[runner.Team]*runner.ProgramError `json:"errors,omitempty"`
}

// Outcome summarizes a finished match. Winner is set only when it
// follows from faults alone (one side faulted, the other did not);
// determining a winner from game state is the engine's business.
type Outcome struct {
	MatchID string                                 `json:"match_id"`
	Turns   int                                    `json:"turns"`
	Winner  *runner.Team                           `json:"winner,omitempty"`
	Errors  map[runner.Team][]*runner.ProgramError `json:"errors,omitempty"`
}

// RunnerBuilder constructs one side's runner. Builders run concurrently;
// each owns its own setup (spawn plus handshake).
type RunnerBuilder func(ctx context.Context) (runner.Runner, error)

// TurnCallback observes each completed round
type TurnCallback func(*TurnRecord)

// Driver runs matches
type Driver struct {
	logger   *zap.Logger
	engine   Engine
	turns    int
	callback TurnCallback
}

// NewDriver creates a match driver. callback may be nil.
func NewDriver(logger *zap.Logger, engine Engine, turns int, callback TurnCallback) (*Driver, error) {
	if turns <= 0 {
		return nil, fmt.Errorf("turns must be positive, got %d", turns)
	}
	if engine == nil {
		return nil, fmt.Errorf("an engine is required")
	}
	return &Driver{
		logger:   logger,
		engine:   engine,
		turns:    turns,
		callback: callback,
	}, nil
}

type side struct {
	runner   runner.Runner
	terminal *runner.ProgramError // set once the side can no longer play
}

// Run builds both runners concurrently, awaits both initializations, and
// drives the turn loop. Setup failures and faults are attributed to their
// side in the outcome rather than returned; the returned error covers
// driver-level failures only (context cancellation, a broken engine).
func (d *Driver) Run(ctx context.Context, blue, red RunnerBuilder) (*Outcome, error) {
	outcome := &Outcome{
		MatchID: uuid.NewString(),
		Errors:  make(map[runner.Team][]*runner.ProgramError),
	}
	log := d.logger.With(zap.String("match_id", outcome.MatchID))

	sides := d.setup(ctx, map[runner.Team]RunnerBuilder{
		runner.TeamBlue: blue,
		runner.TeamRed:  red,
	})
	defer func() {
		for _, s := range sides {
			if s.runner != nil {
				_ = s.runner.Close()
			}
		}
	}()

	for team, s := range sides {
		if s.terminal != nil {
			log.Warn("robot failed to initialize", zap.String("team", string(team)), zap.Error(s.terminal))
			outcome.Errors[team] = append(outcome.Errors[team], s.terminal)
		}
	}

	// No turn is ever requested unless both sides initialized.
	if sides[runner.TeamBlue].terminal == nil && sides[runner.TeamRed].terminal == nil {
		if err := d.loop(ctx, log, sides, outcome); err != nil {
			return nil, err
		}
	}

	outcome.Winner = winnerFromFaults(sides)
	return outcome, nil
}

// setup constructs both runners in parallel and waits for both
func (d *Driver) setup(ctx context.Context, builders map[runner.Team]RunnerBuilder) map[runner.Team]*side {
	sides := map[runner.Team]*side{
		runner.TeamBlue: {},
		runner.TeamRed:  {},
	}

	var wg sync.WaitGroup
	for team, build := range builders {
		wg.Add(1)
		go func(team runner.Team, build RunnerBuilder) {
			defer wg.Done()
			r, err := build(ctx)
			if err != nil {
				sides[team].terminal = runner.AsProgramError(err, team)
				return
			}
			sides[team].runner = r
		}(team, build)
	}
	wg.Wait()
	return sides
}

func (d *Driver) loop(ctx context.Context, log *zap.Logger, sides map[runner.Team]*side, outcome *Outcome) error {
	state := d.engine.Initial()

	for turn := 1; turn <= d.turns; turn++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("match aborted: %w", err)
		}

		record := &TurnRecord{
			Turn:    turn,
			Outputs: make(map[runner.Team]*runner.Output),
			Errors:  make(map[runner.Team]*runner.ProgramError),
		}

		// Both sides play concurrently; within one side the next turn is
		// only ever issued after this result lands. Each goroutine writes
		// only its own slot.
		type slot struct {
			out *runner.Output
			pe  *runner.ProgramError
		}
		slots := map[runner.Team]*slot{
			runner.TeamBlue: {},
			runner.TeamRed:  {},
		}

		var wg sync.WaitGroup
		for team, s := range sides {
			if s.terminal != nil {
				slots[team].pe = s.terminal
				continue
			}
			wg.Add(1)
			go func(team runner.Team, s *side, slot *slot) {
				defer wg.Done()
				out, err := s.runner.ExecuteTurn(ctx, &runner.Input{
					Turn:  turn,
					Team:  team,
					State: state,
				})
				if err != nil {
					pe := runner.AsProgramError(err, team)
					slot.pe = pe
					if pe.Type != runner.ErrRuntime {
						// Timeouts and broken streams end this side's
						// match; robot-reported errors do not.
						s.terminal = pe
					}
					return
				}
				slot.out = out
			}(team, s, slots[team])
		}
		wg.Wait()

		for team, slot := range slots {
			if slot.out != nil {
				record.Outputs[team] = slot.out
			}
			if slot.pe != nil {
				record.Errors[team] = slot.pe
			}
		}

		for team, pe := range record.Errors {
			outcome.Errors[team] = append(outcome.Errors[team], pe)
		}

		next, err := d.engine.Apply(state, record.Outputs)
		if err != nil {
			return fmt.Errorf("engine rejected turn %d: %w", turn, err)
		}
		state = next
		record.State = state
		outcome.Turns = turn

		if d.callback != nil {
			d.callback(record)
		}

		if sides[runner.TeamBlue].terminal != nil && sides[runner.TeamRed].terminal != nil {
			log.Info("both robots faulted, ending match early", zap.Int("turn", turn))
			break
		}
	}

	return nil
}

func winnerFromFaults(sides map[runner.Team]*side) *runner.Team {
	blueDown := sides[runner.TeamBlue].terminal != nil
	redDown := sides[runner.TeamRed].terminal != nil
	switch {
	case blueDown && !redDown:
		team := runner.TeamRed
		return &team
	case redDown && !blueDown:
		team := runner.TeamBlue
		return &team
	default:
		return nil
	}
}
