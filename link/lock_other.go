//go:build !unix

package link

// lockDevice is a no-op where flock is unavailable; the in-process claim
// still applies and the OS refuses a second open of a COM port.
func lockDevice(string) (func(), error) {
	return func() {}, nil
}
