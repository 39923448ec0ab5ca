//go:build darwin

package window

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa -framework AppKit
#import <Cocoa/Cocoa.h>
#import <AppKit/AppKit.h>

// 通过 PID 激活应用窗口
int activateAppByPID(int pid) {
    NSRunningApplication* app = [NSRunningApplication runningApplicationWithProcessIdentifier:pid];
    if (app == nil) {
        return 0;
    }
    [app activateWithOptions:NSApplicationActivateAllWindows];
    return 1;
}
*/
import "C"

import "fmt"

// activatePlatform macOS 通过 NSRunningApplication 激活
func activatePlatform(pid int) error {
	if C.activateAppByPID(C.int(pid)) == 0 {
		return fmt.Errorf("无法激活 PID %d 的窗口", pid)
	}
	return nil
}
