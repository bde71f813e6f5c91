//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package sandbox

import (
	"errors"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(int) error {
	return errors.ErrUnsupported
}
