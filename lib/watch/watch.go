// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Watcher calls a function each time a file is created at a path.
type Watcher struct {
	path     string
	onCreate func()
	logger   *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New starts watching path. onCreate runs on the watcher goroutine for
// every IN_CREATE or IN_MOVED_TO event naming the file; it must not
// call Stop. interval bounds how long Stop waits for the loop to
// notice. A nil logger discards output.
func New(path string, interval time.Duration, onCreate func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	directory := filepath.Dir(path)
	if _, err := unix.InotifyAddWatch(fd, directory, unix.IN_CREATE|unix.IN_MOVED_TO); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", directory, err)
	}

	watcher := &Watcher{
		path:     path,
		onCreate: onCreate,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go watcher.loop(fd, filepath.Base(path), int(interval/time.Millisecond))
	return watcher, nil
}

// Path returns the watched path.
func (w *Watcher) Path() string { return w.path }

// Stop ends the watch and waits for the watcher goroutine to exit. It
// is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watcher) loop(fd int, filename string, timeoutMillis int) {
	defer close(w.done)
	defer unix.Close(fd)

	if timeoutMillis <= 0 {
		timeoutMillis = 100
	}
	buffer := make([]byte, 4096)
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, timeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.logger.Warn("restart watcher stopped", "path", w.path, "error", err)
			return
		}
		if count == 0 {
			continue
		}

		bytesRead, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			w.logger.Warn("restart watcher stopped", "path", w.path, "error", err)
			return
		}

		if created := countCreations(buffer[:bytesRead], filename); created > 0 {
			w.logger.Debug("broker socket created", "path", w.path, "events", created)
			w.onCreate()
		}
	}
}

// countCreations returns how many events in a buffer of raw inotify
// events name filename.
//
// Event layout (inotify(7)): wd int32, mask uint32, cookie uint32,
// len uint32, then len bytes of null-padded name.
func countCreations(buffer []byte, filename string) int {
	count := 0
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}
		if nameLength > 0 {
			name := buffer[offset+unix.SizeofInotifyEvent : offset+eventSize]
			if index := bytes.IndexByte(name, 0); index >= 0 {
				name = name[:index]
			}
			if string(name) == filename {
				count++
			}
		}
		offset += eventSize
	}
	return count
}
