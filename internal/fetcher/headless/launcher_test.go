package headless

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestFindExecutableConfiguredPath(t *testing.T) {
	t.Parallel()

	exe := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o600))

	got, err := FindExecutable(exe)
	require.NoError(t, err)
	require.Equal(t, exe, got)

	_, err = FindExecutable(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, ErrExecutableNotFound)
}

func TestFreePort(t *testing.T) {
	t.Parallel()

	port, err := FreePort()
	require.NoError(t, err)
	require.Positive(t, port)

	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err, "port should be free again")
	require.NoError(t, l.Close())
}

func TestLaunchArgs(t *testing.T) {
	t.Parallel()

	args := launchArgs(Config{ProfileDir: "/tmp/profile", Headless: true, NoSandbox: true, ExtraFlags: []string{"--mute-audio"}}, 9333)
	require.Contains(t, args, "--remote-debugging-port=9333")
	require.Contains(t, args, "--user-data-dir=/tmp/profile")
	require.Contains(t, args, "--headless=new")
	require.Contains(t, args, "--no-sandbox")
	require.Contains(t, args, "--disable-blink-features=AutomationControlled")
	require.Contains(t, args, "--mute-audio")
	require.Equal(t, "about:blank", args[len(args)-1])

	args = launchArgs(Config{ProfileDir: "/tmp/profile"}, 9333)
	require.NotContains(t, args, "--headless=new")
	require.NotContains(t, args, "--no-sandbox")
}

func TestWaitDevToolsBecomesReady(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/json/version", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Browser":"Chrome/122","webSocketDebuggerUrl":"ws://127.0.0.1:1/devtools/browser/abc"}`))
	}))
	defer srv.Close()

	ws, err := waitDevTools(context.Background(), resty.New(), srv.URL, 5*time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:1/devtools/browser/abc", ws)
	require.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitDevToolsTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := waitDevTools(context.Background(), resty.New(), srv.URL, 600*time.Millisecond, nil)
	require.ErrorIs(t, err, ErrDevToolsTimeout)
}

func TestWaitDevToolsProcessExited(t *testing.T) {
	t.Parallel()

	exited := make(chan struct{})
	close(exited)
	_, err := waitDevTools(context.Background(), resty.New().SetTimeout(200*time.Millisecond), "http://127.0.0.1:1", time.Minute, exited)
	require.ErrorContains(t, err, "exited")
}

func TestPageTarget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"SW1","type":"service_worker","url":"https://x/sw.js"},
			{"id":"PAGE1","type":"page","url":"about:blank"}
		]`))
	}))
	defer srv.Close()

	id, err := pageTarget(context.Background(), resty.New(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "PAGE1", id)
}

func TestPageTargetNone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	id, err := pageTarget(context.Background(), resty.New(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, id)

	_, err = pageTarget(context.Background(), resty.New().SetTimeout(200*time.Millisecond), "http://127.0.0.1:1")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrDevToolsTimeout))
}
