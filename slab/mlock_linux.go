//go:build linux

package slab

import "golang.org/x/sys/unix"

// lockMemory pins the byte range into RAM. Subject to RLIMIT_MEMLOCK.
func lockMemory(b []byte) error {
	return unix.Mlock(b)
}

// unlockMemory releases a previous lockMemory.
func unlockMemory(b []byte) error {
	return unix.Munlock(b)
}
