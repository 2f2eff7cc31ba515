package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/botbox/arena"
	"github.com/isdmx/botbox/config"
	"github.com/isdmx/botbox/robotid"
	"github.com/isdmx/botbox/runner"
)

func testRoster(t *testing.T) []robotid.Identity {
	t.Helper()
	var roster []robotid.Identity
	for _, token := range []string{"alice/mybot", "bob/rival", "command:python3 extra.py"} {
		id, err := robotid.Parse(token)
		require.NoError(t, err)
		roster = append(roster, id)
	}
	return roster
}

// scriptedMatch records its invocation and replays canned turn records
type scriptedMatch struct {
	turns   int
	red     robotid.Identity
	records []*arena.TurnRecord
	outcome *arena.Outcome
	err     error
}

func (m *scriptedMatch) run(_ context.Context, _, red robotid.Identity, turns int, cb arena.TurnCallback) (*arena.Outcome, error) {
	m.turns = turns
	m.red = red
	for _, r := range m.records {
		cb(r)
	}
	return m.outcome, m.err
}

func newTestServer(t *testing.T, match MatchFunc) *Server {
	t.Helper()
	s, err := New(zaptest.NewLogger(t), config.ServerConfig{Address: "127.0.0.1"}, testRoster(t), 10, match)
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	log := zaptest.NewLogger(t)
	match := func(context.Context, robotid.Identity, robotid.Identity, int, arena.TurnCallback) (*arena.Outcome, error) {
		return nil, nil
	}

	_, err := New(log, config.ServerConfig{}, testRoster(t)[:1], 10, match)
	assert.Error(t, err)

	_, err = New(log, config.ServerConfig{}, testRoster(t), 10, nil)
	assert.Error(t, err)
}

func TestFlags(t *testing.T) {
	s := newTestServer(t, (&scriptedMatch{}).run)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/flags")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "alice", body["user"])
	assert.Equal(t, "mybot", body["robot"])
}

func TestRobots(t *testing.T) {
	s := newTestServer(t, (&scriptedMatch{}).run)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/robots")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))

	// The home robot is not its own opponent.
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].ID)
	assert.Equal(t, "bob / rival", list[0].Name)
	assert.Equal(t, 2, list[1].ID)
}

func TestRunStream(t *testing.T) {
	winner := runner.TeamBlue
	match := &scriptedMatch{
		records: []*arena.TurnRecord{
			{Turn: 1, State: json.RawMessage(`{}`)},
			{Turn: 2, State: json.RawMessage(`{}`)},
		},
		outcome: &arena.Outcome{MatchID: "m-1", Turns: 2, Winner: &winner},
	}
	s := newTestServer(t, match.run)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/run?id=1&turns=3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body := make([]byte, 0, 4096)
	buf := make([]byte, 1024)
	for {
		n, readErr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if readErr != nil {
			break
		}
	}

	text := string(body)
	assert.Equal(t, 2, strings.Count(text, `"type":"progress"`))
	assert.Contains(t, text, `"type":"output"`)
	assert.Contains(t, text, `"match_id":"m-1"`)

	// The requested turn count reaches the match, as does the opponent.
	assert.Equal(t, 3, match.turns)
	assert.Equal(t, "bob", match.red.User)
}

func TestRunDefaultsTurns(t *testing.T) {
	match := &scriptedMatch{outcome: &arena.Outcome{MatchID: "m-2"}}
	s := newTestServer(t, match.run)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/run?id=2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 10, match.turns)
}

func TestRunUnknownRobot(t *testing.T) {
	s := newTestServer(t, (&scriptedMatch{}).run)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, query := range []string{"id=0", "id=7", "id=-1"} {
		resp, err := http.Get(srv.URL + "/api/run?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, query)
	}
}
