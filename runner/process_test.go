package runner

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh available")
	}
}

// echoBotScript is a complete robot: it handshakes, then answers every
// input line with an empty action set.
const echoBotScript = `
echo '{"status":"ok"}'
while read line; do
  echo '{"robot_actions":{}}'
done
`

func TestProcessRunnerMatch(t *testing.T) {
	requireShell(t)

	p, err := NewProcess(context.Background(), "sh", []string{"-c", echoBotScript},
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer p.Close()

	for turn := 1; turn <= 5; turn++ {
		out, err := p.ExecuteTurn(context.Background(), &Input{
			Turn:  turn,
			Team:  TeamBlue,
			State: json.RawMessage(`{"turn":1}`),
		})
		require.NoError(t, err)
		assert.NotNil(t, out.Actions)
	}
}

func TestProcessRunnerSpawnFailure(t *testing.T) {
	_, err := NewProcess(context.Background(), "/nonexistent/robot-binary", nil)
	require.Error(t, err)

	var pe *ProgramError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrSpawn, pe.Type)
}

func TestProcessRunnerExitsWithoutHandshake(t *testing.T) {
	requireShell(t)

	_, err := NewProcess(context.Background(), "sh", []string{"-c", "exit 0"},
		WithLogger(zaptest.NewLogger(t)))
	require.Error(t, err)

	var pe *ProgramError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrInit, pe.Type)
}

func TestProcessRunnerReceivesSourcePath(t *testing.T) {
	requireShell(t)

	// A localrunner-style invocation: the source path is the final
	// argument, and the robot proves it can read it.
	src := filepath.Join(t.TempDir(), "bot.py")
	require.NoError(t, os.WriteFile(src, []byte("print"), 0o644))

	script := `
echo '{"status":"ok"}'
while read line; do
  if [ -r "$1" ]; then
    echo '{"robot_actions":{},"logs":["found source"]}'
  else
    echo '{"error":{"type":"runtime","summary":"no source"}}'
  fi
done
`
	p, err := NewProcess(context.Background(), "sh", []string{"-c", script, "sh", src},
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer p.Close()

	out, err := p.ExecuteTurn(context.Background(), &Input{Turn: 1, Team: TeamRed})
	require.NoError(t, err)
	assert.Equal(t, []string{"found source"}, out.Logs)
}

func TestFromIdentityProcessVariants(t *testing.T) {
	requireShell(t)

	t.Run("Command", func(t *testing.T) {
		id := mustParse(t, `command:sh -c 'echo {\"status\":\"ok\"}; cat >/dev/null'`)
		r, err := FromIdentity(context.Background(), Deps{}, id)
		require.NoError(t, err)
		require.NoError(t, r.Close())
	})

	t.Run("UnknownProgram", func(t *testing.T) {
		id := mustParse(t, "command:/definitely/not/a/robot")
		_, err := FromIdentity(context.Background(), Deps{}, id)
		require.Error(t, err)
		var pe *ProgramError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, ErrSpawn, pe.Type)
	})
}
