//go:build unix && !linux

package redirect

import "golang.org/x/sys/unix"

// dupSlot makes slot refer to the same open file as src.
func dupSlot(src, slot int) {
	_ = unix.Dup2(src, slot)
}
