//go:build !linux

package supervisor

import "syscall"

// sysProcAttr puts the simulator in its own process group. Pdeathsig is
// linux only.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
