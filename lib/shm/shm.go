// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SlotSize is the size in bytes of one counter.
const SlotSize = 4

// BrokerSlot is the slot mirroring the broker's process id.
const BrokerSlot = 0

// Counters is a read-only mapping of the counter array.
type Counters struct {
	mu   sync.RWMutex
	path string
	data []byte
}

// Map maps size bytes of the counter file at path read-only. size is
// rounded down to a whole number of slots.
func Map(path string, size int) (*Counters, error) {
	size -= size % SlotSize
	if size <= 0 {
		return nil, fmt.Errorf("shm: mapping %s: size must hold at least one slot, got %d", path, size)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shm: opening %s: %w", path, err)
	}
	defer file.Close()

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mapping %s: %w", path, err)
	}
	return &Counters{path: path, data: data}, nil
}

// Load returns the counter in slot. ok is false if slot is outside the
// mapping or the mapping is closed.
func (c *Counters) Load(slot uint32) (value uint32, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	offset := int(slot) * SlotSize
	if c.data == nil || offset+SlotSize > len(c.data) {
		return 0, false
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&c.data[offset]))), true
}

// Size returns the mapped size in bytes.
func (c *Counters) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Path returns the mapped file's path.
func (c *Counters) Path() string { return c.path }

// Close unmaps the array. Further loads report ok == false.
func (c *Counters) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		return nil
	}
	err := unix.Munmap(c.data)
	c.data = nil
	if err != nil {
		return fmt.Errorf("shm: unmapping %s: %w", c.path, err)
	}
	return nil
}

// Writer is the broker side of the counter array.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	data []byte
}

// Create creates (or truncates) the counter file at path with room for
// slots counters and maps it read-write.
func Create(path string, slots int) (*Writer, error) {
	if slots <= BrokerSlot {
		return nil, fmt.Errorf("shm: creating %s: need at least one slot, got %d", path, slots)
	}
	size := slots * SlotSize

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: creating %s: %w", path, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: sizing %s: %w", path, err)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: mapping %s: %w", path, err)
	}
	return &Writer{file: file, data: data}, nil
}

func (w *Writer) slot(slot uint32) (*uint32, error) {
	offset := int(slot) * SlotSize
	if w.data == nil || offset+SlotSize > len(w.data) {
		return nil, fmt.Errorf("shm: slot %d out of range", slot)
	}
	return (*uint32)(unsafe.Pointer(&w.data[offset])), nil
}

// Store sets slot to value.
func (w *Writer) Store(slot uint32, value uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	pointer, err := w.slot(slot)
	if err != nil {
		return err
	}
	atomic.StoreUint32(pointer, value)
	return nil
}

// Increment adds one to slot and returns the new value.
func (w *Writer) Increment(slot uint32) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pointer, err := w.slot(slot)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32(pointer, 1), nil
}

// Size returns the array size in bytes.
func (w *Writer) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.data)
}

// Slots returns the number of counters.
func (w *Writer) Slots() int { return w.Size() / SlotSize }

// Close unmaps and closes the file. The file itself stays on disk.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.data == nil {
		return nil
	}
	unmapErr := unix.Munmap(w.data)
	w.data = nil
	closeErr := w.file.Close()
	if unmapErr != nil {
		return fmt.Errorf("shm: unmapping: %w", unmapErr)
	}
	return closeErr
}
