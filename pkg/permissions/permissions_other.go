//go:build !darwin

package permissions

// 非 macOS 系统不需要额外授权
func check() Status {
	return Status{Accessibility: true, ScreenRecording: true}
}

// OpenSettings 非 macOS 无操作
func OpenSettings(Status) {}
