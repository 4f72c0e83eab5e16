//go:build !windows

package platform

func initializeProcessIdentity() error {
	return nil
}
