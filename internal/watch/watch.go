// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when Watch is given a non-positive debounce.
const DefaultDebounce = 150 * time.Millisecond

// MaxFileSize is the largest file Watch will hand to its callback.
const MaxFileSize = 10 * 1024 * 1024

// ErrTooLarge is returned when the watched file exceeds MaxFileSize.
var ErrTooLarge = errors.New("file too large")

// Watch calls fn with the contents of path once immediately and again after
// every change, debounced. Callbacks run on the calling goroutine, one at a
// time. Watch blocks until ctx is cancelled and then returns nil.
func Watch(ctx context.Context, path string, debounce time.Duration, fn func(text string)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: resolve %s: %w", path, err)
	}
	text, err := readLimited(abs, MaxFileSize)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch: add %s: %w", filepath.Dir(abs), err)
	}
	log.Printf("WATCH_START | path=%s debounce=%s", abs, debounce)

	fn(string(text))

	// The timer is only armed after a relevant event.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("WATCH_STOP | path=%s", abs)
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(event, abs) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("WATCH_ERROR | path=%s error=%v", abs, err)

		case <-timer.C:
			data, err := readLimited(abs, MaxFileSize)
			if err != nil {
				// Mid-rename saves briefly leave no file; the Create that
				// follows re-arms the timer. Oversized files are skipped
				// until they shrink.
				log.Printf("WATCH_READ_ERROR | path=%s error=%v", abs, err)
				continue
			}
			fn(string(data))
		}
	}
}

// readLimited reads path, failing with ErrTooLarge past limit bytes.
func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, path, limit)
	}
	return data, nil
}

func relevant(event fsnotify.Event, target string) bool {
	if filepath.Clean(event.Name) != target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
