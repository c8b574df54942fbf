//go:build !unix

package jobqueue

import (
	"fmt"
	"os"
)

// SharedCounter is unsupported outside unix-family platforms: NewSharedCounter
// returns an error here, and Run propagates it rather than falling back to a
// single in-process worker — the process-pool job runner requires unix.
type SharedCounter struct{}

func NewSharedCounter() (*SharedCounter, error) {
	return nil, fmt.Errorf("jobqueue: shared-memory counter unsupported on this platform")
}

func OpenSharedCounter(fd uintptr) (*SharedCounter, error) {
	return nil, fmt.Errorf("jobqueue: shared-memory counter unsupported on this platform")
}

func (c *SharedCounter) Fd() uintptr { return 0 }

func (c *SharedCounter) File() *os.File { return nil }

func (c *SharedCounter) FetchAdd() uint32 { return 0 }

func (c *SharedCounter) Close() error { return nil }
