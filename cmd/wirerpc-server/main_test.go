package main

import (
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestBindFailureIsFatal(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	err = run([]string{"--addr", taken.Addr().String(), "--log-format", "json", "--log-level", "error"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestInvalidConfigIsFatal(t *testing.T) {
	assert.Error(t, run([]string{"--codec", "xml"}))
	assert.Error(t, run([]string{"--no-such-flag"}))
}

func TestHelp(t *testing.T) {
	assert.NoError(t, run([]string{"--help"}))
}

func TestSignalStopsServer(t *testing.T) {
	adminAddr := freeAddr(t)
	done := make(chan error, 1)
	go func() {
		done <- run([]string{
			"--addr", "127.0.0.1:0",
			"--admin-addr", adminAddr,
			"--log-level", "error",
			"--shutdown-grace", "2s",
		})
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + adminAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop on SIGTERM")
	}
}
