package cmd

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setVersionVars(t *testing.T, version, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	t.Cleanup(func() {
		Version, GitCommit, BuildDate = origVersion, origCommit, origDate
	})
	Version, GitCommit, BuildDate = version, commit, date
}

func runVersion(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"version"}, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	setVersionVars(t, "1.0.0", "abc123", "2026-01-27T12:00:00Z")

	output, err := runVersion(t)
	require.NoError(t, err)

	for _, expected := range []string{
		"Eventboard Server",
		"Version:    1.0.0",
		"Git commit: abc123",
		"Build date: 2026-01-27T12:00:00Z",
		"Go version: " + runtime.Version(),
		"Platform:   " + runtime.GOOS + "/" + runtime.GOARCH,
	} {
		assert.Contains(t, output, expected)
	}
}

func TestVersionCommandDefaultValues(t *testing.T) {
	setVersionVars(t, "dev", "unknown", "unknown")

	output, err := runVersion(t)
	require.NoError(t, err)

	assert.Contains(t, output, "Version:    dev")
	assert.Contains(t, output, "Git commit: unknown")
	assert.Contains(t, output, "Build date: unknown")
}

func TestVersionCommandRejectsArgs(t *testing.T) {
	_, err := runVersion(t, "extra")
	assert.Error(t, err)
}
