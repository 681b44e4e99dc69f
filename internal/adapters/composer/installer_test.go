package composer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

type fakeRunner struct {
	calls    []ports.CommandCall
	result   ports.CommandResult
	err      error
	deadline bool
}

func (f *fakeRunner) Run(ctx context.Context, command string, args ...string) (ports.CommandResult, error) {
	f.calls = append(f.calls, ports.CommandCall{Command: command, Args: args})
	_, f.deadline = ctx.Deadline()
	return f.result, f.err
}

func pluginAt(t *testing.T, withComposer bool) *plugin.Plugin {
	t.Helper()
	dir := t.TempDir()
	if withComposer {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "composer.json"), []byte(`{}`), 0o644))
	}
	return &plugin.Plugin{Name: "hello", Path: dir}
}

func TestInstaller_Install(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	p := pluginAt(t, true)

	require.NoError(t, NewInstaller(runner, WithCommand("/usr/bin/composer")).Install(context.Background(), p))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/usr/bin/composer", runner.calls[0].Command)
	assert.Equal(t, []string{"install", "--no-dev", "--no-interaction", "--no-progress", "--optimize-autoloader", "--working-dir", p.Path}, runner.calls[0].Args)
	assert.True(t, runner.deadline)
}

func TestInstaller_SkipsWithoutComposerJSON(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	require.NoError(t, NewInstaller(runner).Install(context.Background(), pluginAt(t, false)))
	assert.Empty(t, runner.calls)
}

func TestInstaller_Failures(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: ports.CommandResult{ExitCode: 2, Stderr: "Your requirements could not be resolved\n"}}
	err := NewInstaller(runner).Install(context.Background(), pluginAt(t, true))
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.Contains(t, err.Error(), "exit 2")
	assert.Contains(t, err.Error(), "could not be resolved")

	runner = &fakeRunner{err: context.DeadlineExceeded}
	err = NewInstaller(runner, WithTimeout(time.Second)).Install(context.Background(), pluginAt(t, true))
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.Contains(t, err.Error(), "timed out after 1s")
}
