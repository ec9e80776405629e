//go:build e2e

package e2e

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skoenig/vmshare/internal/models"
	"github.com/skoenig/vmshare/internal/services/probe"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func getSSHConfig(t *testing.T) models.SSHConfig {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	return models.SSHConfig{
		Host:     host,
		Port:     port,
		User:     user,
		KeyPaths: []string{keyPath},
		Timeout:  30 * time.Second,
	}
}

func TestConnectPiped_E2E(t *testing.T) {
	cfg := getSSHConfig(t)
	cfg.Command = "echo OK"

	svc := probe.New(testLogger())

	session, err := svc.ConnectPiped(context.Background(), cfg)
	require.NoError(t, err)

	code, err := session.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, session.Stdout(), "OK")
}

func TestConnectWait_E2E(t *testing.T) {
	cfg := getSSHConfig(t)
	cfg.Command = "exit 7"

	svc := probe.New(testLogger())

	code, err := svc.ConnectWait(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestConnectUnreachable_E2E(t *testing.T) {
	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	cfg := models.SSHConfig{
		Host:     "192.168.255.254", // Non-routable IP
		Port:     22,
		User:     "root",
		KeyPaths: []string{keyPath},
		Command:  "exit",
		Timeout:  8 * time.Second,
	}

	svc := probe.New(testLogger())
	svc.RetryInterval = 500 * time.Millisecond

	_, err := svc.ConnectWait(context.Background(), cfg)

	require.Error(t, err)
	var deadlineErr *probe.DeadlineError
	assert.True(t, errors.As(err, &deadlineErr))
}
