//go:build linux

package redirect

import "golang.org/x/sys/unix"

// dupSlot makes slot refer to the same open file as src. Linux uses Dup3
// (Dup2 does not exist on arm64). Dup3 rejects src == slot, but in that case
// the slot already holds the right file and there is nothing to do.
func dupSlot(src, slot int) {
	if src == slot {
		return
	}
	_ = unix.Dup3(src, slot, 0)
}
