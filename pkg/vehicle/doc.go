// Package vehicle models the lock the Anchor actuates.
//
// An unlock is temporary: the lock re-engages on its own after the
// auto-lock delay (5 seconds by default) unless Lock is called first. A
// second Unlock while unlocked restarts the delay.
package vehicle
