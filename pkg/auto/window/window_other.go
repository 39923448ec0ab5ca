//go:build !darwin && !windows

package window

import (
	"fmt"

	"github.com/go-vgo/robotgo"
)

// activatePlatform Linux 等平台使用 robotgo
func activatePlatform(pid int) error {
	if err := robotgo.ActivePid(pid); err != nil {
		return fmt.Errorf("激活窗口失败 (PID=%d): %w", pid, err)
	}
	return nil
}
