package input

import "github.com/go-vgo/robotgo"

// KeyTap 按键，可带修饰键
func KeyTap(key string, modifiers ...string) error {
	if len(modifiers) > 0 {
		return robotgo.KeyTap(key, modifiers)
	}
	return robotgo.KeyTap(key)
}
