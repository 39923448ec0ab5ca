//go:build windows

package window

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	user32                       = syscall.NewLazyDLL("user32.dll")
	kernel32                     = syscall.NewLazyDLL("kernel32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procSetForegroundWindow      = user32.NewProc("SetForegroundWindow")
	procShowWindow               = user32.NewProc("ShowWindow")
	procBringWindowToTop         = user32.NewProc("BringWindowToTop")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procAttachThreadInput        = user32.NewProc("AttachThreadInput")
	procGetCurrentThreadId       = kernel32.NewProc("GetCurrentThreadId")
)

const swRestore = 9

// activatePlatform 找到 PID 的第一个可见顶层窗口并激活
func activatePlatform(pid int) error {
	var target syscall.Handle

	callback := syscall.NewCallback(func(hwnd syscall.Handle, lParam uintptr) uintptr {
		var windowPid uint32
		procGetWindowThreadProcessId.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&windowPid)))
		if int(windowPid) != pid {
			return 1
		}
		if ret, _, _ := procIsWindowVisible.Call(uintptr(hwnd)); ret != 0 {
			target = hwnd
			return 0
		}
		return 1
	})
	procEnumWindows.Call(callback, 0)

	if target == 0 {
		return fmt.Errorf("未找到 PID %d 的窗口", pid)
	}
	return activateHandle(target)
}

// activateHandle 前台锁定时借用前台线程的输入队列
func activateHandle(hwnd syscall.Handle) error {
	foreground, _, _ := procGetForegroundWindow.Call()
	var foregroundThread uintptr
	if foreground != 0 {
		foregroundThread, _, _ = procGetWindowThreadProcessId.Call(foreground, 0)
	}

	current, _, _ := procGetCurrentThreadId.Call()
	targetThread, _, _ := procGetWindowThreadProcessId.Call(uintptr(hwnd), 0)

	if foregroundThread != 0 && foregroundThread != current {
		procAttachThreadInput.Call(current, foregroundThread, 1)
		defer procAttachThreadInput.Call(current, foregroundThread, 0)
	}
	if targetThread != 0 && targetThread != current {
		procAttachThreadInput.Call(current, targetThread, 1)
		defer procAttachThreadInput.Call(current, targetThread, 0)
	}

	procShowWindow.Call(uintptr(hwnd), swRestore)
	procBringWindowToTop.Call(uintptr(hwnd))

	if ret, _, _ := procSetForegroundWindow.Call(uintptr(hwnd)); ret == 0 {
		return fmt.Errorf("SetForegroundWindow 失败")
	}
	return nil
}
