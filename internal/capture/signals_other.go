//go:build !darwin
// +build !darwin

package capture

// SuppressPreemptionSignal is a no-op outside darwin; the SIGURG/
// CoreAudio interaction it works around has no analogue elsewhere.
func SuppressPreemptionSignal() {}
