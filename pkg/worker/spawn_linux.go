package worker

import "syscall"

// runnerProcAttr puts the runner in its own process group and ties its
// lifetime to the agent
func runnerProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGTERM}
}
