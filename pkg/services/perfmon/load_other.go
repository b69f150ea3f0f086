//go:build !linux

package perfmon

import "errors"

func processCPUSeconds() (float64, error) {
	return 0, errors.New("process CPU time is not available on this platform")
}
