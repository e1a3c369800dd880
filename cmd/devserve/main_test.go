package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devserve/internal/adapter/store"
	"devserve/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func deadPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestStatus_NoRecord(t *testing.T) {
	root, stateDir := t.TempDir(), t.TempDir()
	out, err := execute(t, "status", "--root", root, "--state-dir", stateDir)
	require.NoError(t, err)
	assert.Contains(t, out, "No instance recorded")
}

func TestStatus_DeadInstance(t *testing.T) {
	root, stateDir := t.TempDir(), t.TempDir()
	st := store.NewFileStore(stateDir, root)
	require.NoError(t, st.Write(domain.InstanceRecord{
		PID: 4242, Host: "0.0.0.0", Port: deadPort(t), Root: root, Token: "tok", StartedAt: time.Now(),
	}))

	out, err := execute(t, "status", "--root", root, "--state-dir", stateDir)
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "dead")
	assert.Contains(t, out, "http://127.0.0.1:")
}

func TestStop_RemovesStaleRecord(t *testing.T) {
	root, stateDir := t.TempDir(), t.TempDir()
	st := store.NewFileStore(stateDir, root)
	require.NoError(t, st.Write(domain.InstanceRecord{
		PID: 4242, Host: "127.0.0.1", Port: deadPort(t), Root: root, Token: "tok", StartedAt: time.Now(),
	}))

	out, err := execute(t, "stop", "--root", root, "--state-dir", stateDir)
	require.NoError(t, err)
	assert.Contains(t, out, "removed its record")

	_, err = st.Read()
	assert.True(t, errors.Is(err, domain.ErrNoRecord))
}

func TestServe_InvalidPortEnv(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := execute(t, "--root", t.TempDir(), "--state-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PORT")
}

func TestServe_RejectsArgs(t *testing.T) {
	_, err := execute(t, "serve", "extra")
	assert.Error(t, err)
}

func TestServe_NegativePortFlag(t *testing.T) {
	for _, args := range [][]string{
		{"--port", "-1"},
		{"serve", "--port=-5"},
	} {
		args = append(args, "--root", t.TempDir(), "--state-dir", t.TempDir())
		_, err := execute(t, args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "invalid --port")
	}
}
