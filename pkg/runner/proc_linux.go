package runner

import "syscall"

// payloadProcAttr puts the payload in its own process group and kills it
// if the runner dies first
func payloadProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}
