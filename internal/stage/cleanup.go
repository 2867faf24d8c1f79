package stage

import (
	"os"
)

// Cleanup recursively removes the job's working folder. Callers treat a
// cleanup failure as non-fatal: local disk residue never changes the job's
// outcome.
func Cleanup(root string) error {
	if err := os.RemoveAll(root); err != nil {
		return internalFailure(err)
	}
	return nil
}
