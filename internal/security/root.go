// Package security holds process-level guards applied before the agent starts
// serving players.
package security

import "errors"

// ErrRunningAsRoot is returned when the process effective user ID is 0.
var ErrRunningAsRoot = errors.New("refusing to serve as root: run as a non-root user or pass --allow-root")

// effectiveUIDGetter is replaced on Unix by root_unix.go.
var effectiveUIDGetter = defaultEUID

// defaultEUID reports "not root" on platforms without user IDs.
func defaultEUID() int { return -1 }

// EffectiveUIDGetter returns the platform effective-UID getter.
func EffectiveUIDGetter() func() int {
	return effectiveUIDGetter
}

// RequireNonRoot fails with ErrRunningAsRoot when euidGetter reports 0. A nil
// getter never fails.
func RequireNonRoot(euidGetter func() int) error {
	if euidGetter == nil {
		return nil
	}
	if euidGetter() == 0 {
		return ErrRunningAsRoot
	}
	return nil
}
