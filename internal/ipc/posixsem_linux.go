//go:build linux

package ipc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Layout of glibc's sem_t for 64-bit targets: a single 64-bit word holding
// the value in its low half and the waiter count in its high half, followed
// by the futex "private" flag. sem_t is 32 bytes.
const (
	semDir           = "/dev/shm"
	semSize          = 32
	semValueMask     = 0xffffffff
	semValueMax      = 0x7fffffff
	semNwaitersShift = 32
	semOneWaiter     = uint64(1) << semNwaitersShift
	futexSharedFlag  = 128

	futexWaitOp = 0
	futexWakeOp = 1

	// waitSlice bounds each futex sleep so Wait can observe ctx.
	waitSlice = 100 * time.Millisecond
)

// NamedSemaphore is a POSIX named semaphore interoperable with processes
// using sem_open(3) from glibc.
type NamedSemaphore struct {
	name string
	mem  []byte
	data *uint64
	word *uint32
}

var _ Semaphore = (*NamedSemaphore)(nil)

// OpenNamed opens the named semaphore, creating it with a zero count when it
// does not exist. Names follow sem_open conventions ("/stop").
func OpenNamed(name string, mode os.FileMode) (*NamedSemaphore, error) {
	path, err := semPath(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = createSemFile(path, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("open semaphore %s: %w", name, err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), 0, semSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map semaphore %s: %w", name, err)
	}

	s := &NamedSemaphore{
		name: name,
		mem:  mem,
		data: (*uint64)(unsafe.Pointer(&mem[0])),
	}
	// The futex word is the half of data holding the value.
	if nativeLittleEndian() {
		s.word = (*uint32)(unsafe.Pointer(&mem[0]))
	} else {
		s.word = (*uint32)(unsafe.Pointer(&mem[4]))
	}
	return s, nil
}

// Unlink removes the named semaphore. Open handles stay usable.
func Unlink(name string) error {
	path, err := semPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unlink semaphore %s: %w", name, err)
	}
	return nil
}

func semPath(name string) (string, error) {
	trimmed := strings.TrimLeft(name, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("invalid semaphore name %q", name)
	}
	return filepath.Join(semDir, "sem."+trimmed), nil
}

// createSemFile writes an initialised sem_t to a temporary file and links it
// into place, so concurrent openers never observe a partial semaphore.
func createSemFile(path string, mode os.FileMode) (*os.File, error) {
	tmp, err := os.CreateTemp(semDir, "sem.tmp")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	buf := make([]byte, semSize)
	binary.NativeEndian.PutUint32(buf[8:], futexSharedFlag)
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := os.Link(tmpName, path); err != nil {
		tmp.Close()
		if errors.Is(err, fs.ErrExist) {
			// Lost the race to another opener; use theirs.
			return os.OpenFile(path, os.O_RDWR, 0)
		}
		return nil, err
	}
	return tmp, nil
}

func (s *NamedSemaphore) Post() error {
	for {
		d := atomic.LoadUint64(s.data)
		if d&semValueMask == semValueMax {
			return ErrOverflow
		}
		if atomic.CompareAndSwapUint64(s.data, d, d+1) {
			if d>>semNwaitersShift != 0 {
				futex(s.word, futexWakeOp, 1, nil)
			}
			return nil
		}
	}
}

func (s *NamedSemaphore) TryWait() bool {
	for {
		d := atomic.LoadUint64(s.data)
		if d&semValueMask == 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(s.data, d, d-1) {
			return true
		}
	}
}

// Wait registers as a waiter, as glibc's slow path does, so a posting
// process knows to issue a futex wake.
func (s *NamedSemaphore) Wait(ctx context.Context) error {
	if s.TryWait() {
		return nil
	}
	atomic.AddUint64(s.data, semOneWaiter)
	for {
		d := atomic.LoadUint64(s.data)
		if d&semValueMask > 0 {
			if atomic.CompareAndSwapUint64(s.data, d, d-1-semOneWaiter) {
				return nil
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			atomic.AddUint64(s.data, ^(semOneWaiter - 1))
			return err
		}
		ts := unix.NsecToTimespec(int64(waitSlice))
		futex(s.word, futexWaitOp, 0, &ts)
	}
}

func (s *NamedSemaphore) Value() int {
	return int(atomic.LoadUint64(s.data) & semValueMask)
}

func (s *NamedSemaphore) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem, s.data, s.word = nil, nil, nil
	if err != nil {
		return fmt.Errorf("unmap semaphore %s: %w", s.name, err)
	}
	return nil
}

// futex issues a process-shared futex operation. EAGAIN, EINTR and
// ETIMEDOUT are expected and callers re-check the word.
func futex(addr *uint32, op int, val uint32, ts *unix.Timespec) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(op),
		uintptr(val),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
}

func nativeLittleEndian() bool {
	var one uint16 = 1
	return *(*byte)(unsafe.Pointer(&one)) == 1
}
