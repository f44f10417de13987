// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testDebounce = 20 * time.Millisecond

// startWatch runs Watch in the background and returns the callback channel
// and a function that stops the watcher and returns its error.
func startWatch(t *testing.T, path string) (<-chan string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 32)
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, path, testDebounce, func(text string) { got <- text })
	}()

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("watcher did not stop")
			return nil
		}
	}
	t.Cleanup(func() { cancel() })
	return got, stop
}

func next(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
		return ""
	}
}

// waitFor drains callbacks until want arrives.
func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestWatch_InitialAndChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	got, stop := startWatch(t, path)
	require.Equal(t, "first", next(t, got))

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	waitFor(t, got, "second")

	require.NoError(t, stop())
}

func TestWatch_DebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o600))

	got, stop := startWatch(t, path)
	require.Equal(t, "v0", next(t, got))

	for _, v := range []string{"v1", "v2", "v3", "v4", "final"} {
		require.NoError(t, os.WriteFile(path, []byte(v), 0o600))
	}
	waitFor(t, got, "final")
	require.NoError(t, stop())
}

func TestWatch_RenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	got, stop := startWatch(t, path)
	require.Equal(t, "old", next(t, got))

	tmp := filepath.Join(dir, ".msg.txt.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o600))
	require.NoError(t, os.Rename(tmp, path))
	waitFor(t, got, "new")

	require.NoError(t, stop())
}

func TestWatch_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("only"), 0o600))

	got, stop := startWatch(t, path)
	require.Equal(t, "only", next(t, got))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	select {
	case s := <-got:
		t.Fatalf("unexpected callback %q", s)
	case <-time.After(10 * testDebounce):
	}
	require.NoError(t, stop())
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), testDebounce, func(string) {
		t.Fatal("callback should not run")
	})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadLimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))

	data, err := readLimited(path, 5)
	require.NoError(t, err)
	require.Equal(t, "12345", string(data))

	_, err = readLimited(path, 4)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestWatch_OversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, os.Truncate(path, MaxFileSize+1))

	err := Watch(context.Background(), path, testDebounce, func(string) {
		t.Fatal("callback should not run")
	})
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestWatch_SkipsOversizedChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("small"), 0o600))

	got, stop := startWatch(t, path)
	require.Equal(t, "small", next(t, got))

	require.NoError(t, os.Truncate(path, MaxFileSize+1))
	select {
	case s := <-got:
		t.Fatalf("oversized file reached callback (%d bytes)", len(s))
	case <-time.After(10 * testDebounce):
	}

	require.NoError(t, os.WriteFile(path, []byte("small again"), 0o600))
	waitFor(t, got, "small again")
	require.NoError(t, stop())
}

func TestWatch_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	require.NoError(t, Watch(ctx, path, 0, func(string) { calls++ }))
	require.Equal(t, 1, calls)
}
