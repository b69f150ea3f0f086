//go:build linux

package perfmon

import "github.com/prometheus/procfs"

// processCPUSeconds returns the user plus system CPU time of this process.
func processCPUSeconds() (float64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	st, err := p.Stat()
	if err != nil {
		return 0, err
	}
	return st.CPUTime(), nil
}
