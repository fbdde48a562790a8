package supervisor

import "syscall"

// sysProcAttr puts the simulator in its own process group so a console
// interrupt reaches the broker only. Pdeathsig stops an orphaned simulator
// if the broker dies without reaping it.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
