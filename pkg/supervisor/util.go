package supervisor

import "os"

// statExists reports whether path currently exists on the filesystem,
// swallowing any error other than "not found" by treating it the same
// as absent (the sentinel is advisory, not load-bearing).
func statExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
