package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/botbox/runner"
)

// fakeRunner plays scripted turns and records the order it was called in
type fakeRunner struct {
	mu     sync.Mutex
	turns  []int
	closed bool
	// respond decides each turn's result; nil means empty output
	respond func(turn int) (*runner.Output, error)
}

func (f *fakeRunner) ExecuteTurn(_ context.Context, in *runner.Input) (*runner.Output, error) {
	f.mu.Lock()
	f.turns = append(f.turns, in.Turn)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(in.Turn)
	}
	return &runner.Output{Actions: map[string]runner.Action{}}, nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func builderFor(r runner.Runner, err error) RunnerBuilder {
	return func(context.Context) (runner.Runner, error) {
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func newTestDriver(t *testing.T, turns int, cb TurnCallback) *Driver {
	t.Helper()
	d, err := NewDriver(zaptest.NewLogger(t), PassEngine{}, turns, cb)
	require.NoError(t, err)
	return d
}

func TestDriverFullMatch(t *testing.T) {
	blue := &fakeRunner{}
	red := &fakeRunner{}

	var records []*TurnRecord
	d := newTestDriver(t, 5, func(r *TurnRecord) { records = append(records, r) })

	outcome, err := d.Run(context.Background(), builderFor(blue, nil), builderFor(red, nil))
	require.NoError(t, err)

	assert.Equal(t, 5, outcome.Turns)
	assert.Nil(t, outcome.Winner)
	assert.Empty(t, outcome.Errors)
	assert.NotEmpty(t, outcome.MatchID)

	// Strictly sequential per runner.
	assert.Equal(t, []int{1, 2, 3, 4, 5}, blue.turns)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, red.turns)

	// One record per turn, in order.
	require.Len(t, records, 5)
	for i, r := range records {
		assert.Equal(t, i+1, r.Turn)
		assert.Len(t, r.Outputs, 2)
	}

	// Runners are released when the match ends.
	assert.True(t, blue.closed)
	assert.True(t, red.closed)
}

func TestDriverSetupFailure(t *testing.T) {
	t.Run("OneSideFailsToInitialize", func(t *testing.T) {
		red := &fakeRunner{}
		initErr := &runner.ProgramError{Type: runner.ErrInit, Summary: "no handshake"}

		d := newTestDriver(t, 5, nil)
		outcome, err := d.Run(context.Background(), builderFor(nil, initErr), builderFor(red, nil))
		require.NoError(t, err)

		// No turn at all: the driver must have both initializations first.
		assert.Empty(t, red.turns)
		assert.True(t, red.closed)

		require.Len(t, outcome.Errors[runner.TeamBlue], 1)
		assert.Equal(t, runner.ErrInit, outcome.Errors[runner.TeamBlue][0].Type)
		assert.Equal(t, runner.TeamBlue, outcome.Errors[runner.TeamBlue][0].Team)

		require.NotNil(t, outcome.Winner)
		assert.Equal(t, runner.TeamRed, *outcome.Winner)
	})

	t.Run("BothSidesFail", func(t *testing.T) {
		boom := errors.New("spawn exploded")
		d := newTestDriver(t, 5, nil)
		outcome, err := d.Run(context.Background(), builderFor(nil, boom), builderFor(nil, boom))
		require.NoError(t, err)
		assert.Nil(t, outcome.Winner)
		assert.Len(t, outcome.Errors[runner.TeamBlue], 1)
		assert.Len(t, outcome.Errors[runner.TeamRed], 1)
	})
}

func TestDriverFaultIsolation(t *testing.T) {
	// Red times out on turn 2; blue plays the whole match.
	blue := &fakeRunner{}
	red := &fakeRunner{
		respond: func(turn int) (*runner.Output, error) {
			if turn >= 2 {
				return nil, &runner.ProgramError{Type: runner.ErrTimeout, DurationMS: 50}
			}
			return &runner.Output{}, nil
		},
	}

	var records []*TurnRecord
	d := newTestDriver(t, 4, func(r *TurnRecord) { records = append(records, r) })

	outcome, err := d.Run(context.Background(), builderFor(blue, nil), builderFor(red, nil))
	require.NoError(t, err)

	// Red was never called again after its terminal fault.
	assert.Equal(t, []int{1, 2}, red.turns)
	assert.Equal(t, []int{1, 2, 3, 4}, blue.turns)

	// The fault stays visible on every later record.
	require.Len(t, records, 4)
	assert.Nil(t, records[0].Errors[runner.TeamRed])
	for _, r := range records[1:] {
		require.NotNil(t, r.Errors[runner.TeamRed])
		assert.Equal(t, runner.ErrTimeout, r.Errors[runner.TeamRed].Type)
	}

	require.NotNil(t, outcome.Winner)
	assert.Equal(t, runner.TeamBlue, *outcome.Winner)
}

func TestDriverRuntimeErrorIsNotTerminal(t *testing.T) {
	blue := &fakeRunner{
		respond: func(turn int) (*runner.Output, error) {
			if turn == 1 {
				return nil, &runner.ProgramError{Type: runner.ErrRuntime, Summary: "exception"}
			}
			return &runner.Output{}, nil
		},
	}
	red := &fakeRunner{}

	d := newTestDriver(t, 3, nil)
	outcome, err := d.Run(context.Background(), builderFor(blue, nil), builderFor(red, nil))
	require.NoError(t, err)

	// The robot-reported error is recorded but blue keeps playing.
	assert.Equal(t, []int{1, 2, 3}, blue.turns)
	require.Len(t, outcome.Errors[runner.TeamBlue], 1)
	assert.Nil(t, outcome.Winner)
}

func TestDriverEndsEarlyWhenBothFault(t *testing.T) {
	fail := func(turn int) (*runner.Output, error) {
		return nil, &runner.ProgramError{Type: runner.ErrIO, Summary: "gone"}
	}
	blue := &fakeRunner{respond: fail}
	red := &fakeRunner{respond: fail}

	d := newTestDriver(t, 10, nil)
	outcome, err := d.Run(context.Background(), builderFor(blue, nil), builderFor(red, nil))
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Turns)
	assert.Equal(t, []int{1}, blue.turns)
	assert.Equal(t, []int{1}, red.turns)
}

func TestDriverCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	blue := &fakeRunner{}
	red := &fakeRunner{
		respond: func(turn int) (*runner.Output, error) {
			cancel() // abort mid-match
			return &runner.Output{}, nil
		},
	}

	d := newTestDriver(t, 10, nil)
	_, err := d.Run(ctx, builderFor(blue, nil), builderFor(red, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted")
	assert.True(t, blue.closed)
	assert.True(t, red.closed)
}

func TestDriverValidation(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, err := NewDriver(log, PassEngine{}, 0, nil)
	assert.Error(t, err)

	_, err = NewDriver(log, nil, 5, nil)
	assert.Error(t, err)
}

func TestPassEngine(t *testing.T) {
	e := PassEngine{}
	assert.JSONEq(t, `{}`, string(e.Initial()))

	seeded := PassEngine{State: json.RawMessage(`{"grid":[1]}`)}
	state, err := seeded.Apply(seeded.Initial(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"grid":[1]}`, string(state))
}

type failingEngine struct{}

func (failingEngine) Initial() json.RawMessage { return json.RawMessage(`{}`) }
func (failingEngine) Apply(json.RawMessage, map[runner.Team]*runner.Output) (json.RawMessage, error) {
	return nil, fmt.Errorf("bad state transition")
}

func TestDriverEngineFailure(t *testing.T) {
	d, err := NewDriver(zaptest.NewLogger(t), failingEngine{}, 3, nil)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), builderFor(&fakeRunner{}, nil), builderFor(&fakeRunner{}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine rejected")
}
