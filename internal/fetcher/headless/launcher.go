package headless

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

var (
	// ErrExecutableNotFound is returned when no Chrome binary can be located.
	ErrExecutableNotFound = errors.New("chrome executable not found")
	// ErrDevToolsTimeout is returned when the debugging endpoint never answers.
	ErrDevToolsTimeout = errors.New("devtools endpoint not ready")
)

var lookPath = exec.LookPath

var pathNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

func executableCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		var out []string
		for _, env := range []string{"PROGRAMFILES", "PROGRAMFILES(X86)", "LOCALAPPDATA"} {
			if root := os.Getenv(env); root != "" {
				out = append(out, filepath.Join(root, "Google", "Chrome", "Application", "chrome.exe"))
			}
		}
		return out
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
}

// FindExecutable resolves the browser binary. An explicitly configured path
// must exist; otherwise well-known install locations and PATH are searched.
func FindExecutable(configured string) (string, error) {
	if configured != "" {
		if fileExists(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, configured)
	}
	for _, candidate := range executableCandidates() {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	for _, name := range pathNames {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
	}
	return "", ErrExecutableNotFound
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FreePort asks the kernel for an unused loopback TCP port.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	defer l.Close() //nolint:errcheck // listener only used to pick a port
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", l.Addr())
	}
	return addr.Port, nil
}

func launchArgs(cfg Config, port int) []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=" + cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-blink-features=AutomationControlled",
		"--disable-extensions",
		"--disable-dev-shm-usage",
		"--window-size=1280,720",
		"--lang=en-ZA",
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	if cfg.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	args = append(args, cfg.ExtraFlags...)
	return append(args, "about:blank")
}

// waitDevTools polls /json/version until it reports a browser websocket URL.
// It gives up early if the process exits.
func waitDevTools(
	ctx context.Context,
	client *resty.Client,
	endpoint string,
	timeout time.Duration,
	exited <-chan struct{},
) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		resp, err := client.R().SetContext(ctx).Get(endpoint + "/json/version")
		if err == nil && resp.IsSuccess() {
			if ws := gjson.GetBytes(resp.Body(), "webSocketDebuggerUrl").String(); ws != "" {
				return ws, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for devtools: %w", ctx.Err())
		case <-exited:
			return "", errors.New("browser exited during startup")
		case <-deadline.C:
			return "", fmt.Errorf("%w after %s", ErrDevToolsTimeout, timeout)
		case <-tick.C:
		}
	}
}

// pageTarget returns the id of an existing page target, or "" if none.
func pageTarget(ctx context.Context, client *resty.Client, endpoint string) (string, error) {
	resp, err := client.R().SetContext(ctx).Get(endpoint + "/json/list")
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("list targets: http %d", resp.StatusCode())
	}
	return gjson.GetBytes(resp.Body(), `#(type=="page").id`).String(), nil
}
