//go:build unix

package handoff

import "syscall"

func replaceProcess(path string, argv, env []string) error {
	return syscall.Exec(path, argv, env)
}
