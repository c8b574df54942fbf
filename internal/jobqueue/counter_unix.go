//go:build unix

package jobqueue

import (
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// SharedCounter is a single atomic uint32 cell backed by a memory mapping
// shared between this process and its re-exec'd worker children, per §4.I's
// "A shared memory cell `next` holds an atomic counter". It is backed by an
// unlinked temp file rather than MAP_ANON so its file descriptor can be
// passed to children via os/exec's ExtraFiles (MAP_ANON mappings aren't
// inheritable across exec the way a file-backed mapping is).
type SharedCounter struct {
	file *os.File
	data []byte
}

// NewSharedCounter creates a new zero-initialised shared counter.
func NewSharedCounter() (*SharedCounter, error) {
	f, err := os.CreateTemp("", "aeronav-jobqueue-*")
	if err != nil {
		return nil, fmt.Errorf("jobqueue: create counter file: %w", err)
	}
	// Unlinking immediately makes the backing file anonymous: it has no
	// path, only the open fd(s) keep it alive, matching §4.I/§9's "shared
	// memory cell" intent without naming a persistent temp file.
	name := f.Name()
	if err := f.Truncate(4); err != nil {
		f.Close()
		os.Remove(name)
		return nil, fmt.Errorf("jobqueue: truncate counter file: %w", err)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, 4, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(name)
		return nil, fmt.Errorf("jobqueue: mmap counter: %w", err)
	}
	os.Remove(name)
	return &SharedCounter{file: f, data: data}, nil
}

// OpenSharedCounter maps an existing counter from an inherited file
// descriptor, for a re-exec'd worker process to join.
func OpenSharedCounter(fd uintptr) (*SharedCounter, error) {
	data, err := syscall.Mmap(int(fd), 0, 4, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: mmap inherited counter fd %d: %w", fd, err)
	}
	return &SharedCounter{data: data}, nil
}

// Fd returns the file descriptor backing this counter, valid for the
// process that called NewSharedCounter (to pass via exec.Cmd.ExtraFiles).
func (c *SharedCounter) Fd() uintptr {
	return c.file.Fd()
}

// File returns the backing *os.File for use in exec.Cmd.ExtraFiles. Only
// set in the process that called NewSharedCounter.
func (c *SharedCounter) File() *os.File {
	return c.file
}

// FetchAdd atomically increments the counter by 1 and returns the
// pre-increment value, matching jobqueue workers' fetch_add(next, 1).
func (c *SharedCounter) FetchAdd() uint32 {
	p := (*uint32)(unsafe.Pointer(&c.data[0]))
	return atomic.AddUint32(p, 1) - 1
}

// Close unmaps the counter and, in the owning process, closes its file.
func (c *SharedCounter) Close() error {
	err := syscall.Munmap(c.data)
	if c.file != nil {
		if cerr := c.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
