//go:build !linux

package ipc

import (
	"context"
	"errors"
	"os"
)

// ErrUnsupported is returned where the platform lacks the simulator's IPC.
var ErrUnsupported = errors.New("ipc: named semaphores and SysV shared memory require linux")

// NamedSemaphore is unavailable off linux.
type NamedSemaphore struct{}

func OpenNamed(name string, mode os.FileMode) (*NamedSemaphore, error) {
	return nil, ErrUnsupported
}

func Unlink(name string) error { return ErrUnsupported }

func (*NamedSemaphore) Post() error                { return ErrUnsupported }
func (*NamedSemaphore) TryWait() bool              { return false }
func (*NamedSemaphore) Wait(context.Context) error { return ErrUnsupported }
func (*NamedSemaphore) Value() int                 { return 0 }
func (*NamedSemaphore) Close() error               { return nil }
