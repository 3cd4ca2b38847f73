// Package coalesce implements the request-deduplication contract of spec
// §4.3: dedupe(key, f) begins f() when no call with key is in flight, or
// attaches to the outcome of the one already running. golang.org/x/sync's
// singleflight.Group implements this contract directly.
package coalesce

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls sharing a key.
type Group struct {
	g singleflight.Group
}

// Do runs fn if no call for key is in flight, or waits for and returns the
// in-flight call's result. The registration is removed before Do returns to
// any caller, so a subsequent call with the same key always starts fresh.
func (c *Group) Do(key string, fn func() (any, error)) (any, error) {
	v, err, _ := c.g.Do(key, fn)
	return v, err
}

// DoTyped is a generic convenience wrapper over Do for callers that know
// their concrete result type.
func DoTyped[T any](c *Group, key string, fn func() (T, error)) (T, error) {
	v, err := c.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
