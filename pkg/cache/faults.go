package cache

import "github.com/pkg/errors"

// Guard runs fn and converts a panic into a returned error. The orchestrators
// run their whole pipeline under it, so a caching failure can never abort the
// surrounding workflow run.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("unexpected failure: %v", r)
		}
	}()
	return fn()
}
