package sshfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skoenig/vmshare/internal/models"
	"github.com/skoenig/vmshare/internal/proc"
)

type stdinRecorder struct {
	bytes.Buffer
	closed bool
}

func (r *stdinRecorder) Close() error {
	r.closed = true
	return nil
}

type mockSession struct {
	code       int
	exits      bool
	stdout     string
	stderr     string
	stdin      stdinRecorder
	terminated bool
}

func (m *mockSession) Input() io.WriteCloser { return &m.stdin }

func (m *mockSession) Wait() (int, error) { return m.code, nil }

func (m *mockSession) WaitTimeout(time.Duration) (int, bool, error) {
	if !m.exits {
		return 0, false, nil
	}
	return m.code, true, nil
}

func (m *mockSession) Terminate() error {
	m.terminated = true
	return nil
}

func (m *mockSession) Stdout() string { return m.stdout }
func (m *mockSession) Stderr() string { return m.stderr }

type mockProber struct {
	session proc.Process
	err     error
	gotCfg  models.SSHConfig
}

func (m *mockProber) ConnectWait(context.Context, models.SSHConfig) (int, error) {
	panic("not used by the mount orchestrator")
}

func (m *mockProber) ConnectPiped(_ context.Context, cfg models.SSHConfig) (proc.Process, error) {
	m.gotCfg = cfg
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testSSHConfig() models.SSHConfig {
	return models.SSHConfig{Host: "192.168.64.5", User: "vagrant", Timeout: time.Second}
}

func testMountConfig() models.MountConfig {
	return models.MountConfig{
		LocalDir:  "/home/dev/project",
		RemoteDir: "/mnt/project",
		LocalUser: "dev",
	}
}

func fastService(prober *mockProber) *Impl {
	svc := NewWithProber(testLogger(), prober)
	svc.MaxRunTime = 20 * time.Millisecond
	return svc
}

func TestMount_CleanExit(t *testing.T) {
	session := &mockSession{code: 0, exits: true}
	prober := &mockProber{session: session}

	svc := fastService(prober)

	result, err := svc.Mount(context.Background(), testSSHConfig(), testMountConfig())

	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.False(t, result.ForcedTeardown)
	assert.Nil(t, result.Error)
	// Streams closed before descendants could hold them open; no teardown.
	assert.False(t, session.terminated)
	assert.True(t, session.stdin.closed)

	script := session.stdin.String()
	assert.Contains(t, script, "sudo -E sshfs -o allow_other dev@10.0.2.2:/home/dev/project /mnt/project")
}

func TestMount_SessionConfig(t *testing.T) {
	session := &mockSession{code: 0, exits: true}
	prober := &mockProber{session: session}

	svc := fastService(prober)
	cfg := testSSHConfig()
	cfg.Command = "should-be-cleared"
	cfg.ExtraArgs = []string{"-4"}

	_, err := svc.Mount(context.Background(), cfg, testMountConfig())

	require.NoError(t, err)
	// The mount session is an interactive shell fed by the script.
	assert.Empty(t, prober.gotCfg.Command)
	assert.Equal(t, []string{"-A", "-T", "-o", "LogLevel=ERROR", "-4"}, prober.gotCfg.ExtraArgs)
}

func TestMount_HangWithSentinel(t *testing.T) {
	session := &mockSession{exits: false, stdout: "some noise\n" + Sentinel + "\n"}
	prober := &mockProber{session: session}

	svc := fastService(prober)

	result, err := svc.Mount(context.Background(), testSSHConfig(), testMountConfig())

	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.True(t, result.ForcedTeardown)
	assert.Nil(t, result.Error)
	assert.True(t, session.terminated)
}

func TestMount_HangWithoutSentinel(t *testing.T) {
	session := &mockSession{exits: false, stderr: "read: Connection reset by peer"}
	prober := &mockProber{session: session}

	svc := fastService(prober)

	result, err := svc.Mount(context.Background(), testSSHConfig(), testMountConfig())

	require.NoError(t, err)
	assert.False(t, result.Completed)
	assert.True(t, result.ForcedTeardown)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timed out")
	assert.Contains(t, result.Error.Error(), "Connection reset by peer")
	assert.True(t, session.terminated)
}

func TestMount_NonZeroExit(t *testing.T) {
	session := &mockSession{code: 1, exits: true, stderr: "sshfs: command not found"}
	prober := &mockProber{session: session}

	svc := fastService(prober)

	result, err := svc.Mount(context.Background(), testSSHConfig(), testMountConfig())

	require.NoError(t, err)
	assert.False(t, result.Completed)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "sshfs: command not found")
}

func TestMount_EmptyDirsRejected(t *testing.T) {
	svc := fastService(&mockProber{session: &mockSession{exits: true}})

	_, err := svc.Mount(context.Background(), testSSHConfig(), models.MountConfig{RemoteDir: "/mnt"})
	require.Error(t, err)

	_, err = svc.Mount(context.Background(), testSSHConfig(), models.MountConfig{LocalDir: "/src"})
	require.Error(t, err)
}

func TestMount_ConnectErrorSurfaces(t *testing.T) {
	prober := &mockProber{err: errors.New("no ssh connection after 90s")}

	svc := fastService(prober)

	_, err := svc.Mount(context.Background(), testSSHConfig(), testMountConfig())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "establishing mount session")
}

func TestMountScript_Shape(t *testing.T) {
	script := mountScript(testMountConfig())

	assert.True(t, strings.HasPrefix(script, "set -e\n"))
	assert.Equal(t, 1, strings.Count(script, Sentinel))
	assert.Less(t, strings.Index(script, "sshfs"), strings.Index(script, Sentinel))
	assert.True(t, strings.HasSuffix(script, "exit\n"))
}

func TestMountScript_CustomGateway(t *testing.T) {
	mount := testMountConfig()
	mount.Gateway = "192.168.64.1"

	script := mountScript(mount)

	assert.Contains(t, script, "dev@192.168.64.1:/home/dev/project")
	assert.NotContains(t, script, DefaultGateway)
}

func TestResolveOutcome(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		forced    bool
		stdout    string
		stderr    string
		completed bool
	}{
		{name: "clean zero exit", code: 0, completed: true},
		{name: "clean non-zero exit", code: 1, stderr: "boom", completed: false},
		{name: "forced with sentinel", forced: true, stdout: Sentinel, completed: true},
		{name: "forced sentinel embedded", forced: true, stdout: "x\n" + Sentinel + "\ny", completed: true},
		{name: "forced without sentinel", forced: true, stdout: "partial", completed: false},
		// The exit code is meaningless once the transport was severed.
		{name: "forced ignores code", code: 1, forced: true, stdout: Sentinel, completed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := resolveOutcome(tt.code, tt.forced, tt.stdout, tt.stderr)

			assert.Equal(t, tt.completed, result.Completed)
			assert.Equal(t, tt.forced, result.ForcedTeardown)
			if tt.completed {
				assert.Nil(t, result.Error)
			} else {
				require.NotNil(t, result.Error)
				if tt.stderr != "" {
					assert.Contains(t, result.Error.Error(), tt.stderr)
				}
			}
		})
	}
}
