// Package testutil provides shared helpers for package and integration tests.
//
// Typical usage:
//
//	func TestServeIntegration(t *testing.T) {
//	    addr := testutil.FreeAddr(t)
//	    stop := testutil.WriteFile(t, "stop.txt", "www\nhtml\n")
//	    ...
//	}
package testutil

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteFile writes content to name inside a per-test temporary directory and
// returns the full path.
func WriteFile(tb testing.TB, name, content string) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), name)

	err := os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}

	return path
}

// FreeAddr returns a loopback host:port that was free at the time of the
// call.
func FreeAddr(tb testing.TB) string {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}

	addr := ln.Addr().String()
	_ = ln.Close()

	return addr
}

// WaitHealthy polls http://addr/health until it answers 200 or the timeout
// expires.
func WaitHealthy(tb testing.TB, addr string, timeout time.Duration) {
	tb.Helper()

	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)

	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+addr+"/health", nil)
		if err != nil {
			tb.Fatalf("build request: %v", err)
		}

		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}

		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}

	tb.Fatalf("server at %s never became healthy: %v", addr, lastErr)
}
