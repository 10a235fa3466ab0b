package scheduler

import "syscall"

// childProcAttr makes a loop process exit with its supervisor
func childProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
}
