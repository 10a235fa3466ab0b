//go:build !linux

package runner

import "syscall"

func payloadProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
