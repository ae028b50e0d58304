//go:build !unix

package enginetest

import "os"

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
