// Package domain expiry.go contains functions to resolve and validate absolute expiry times.
package domain

import "time"

// ResolveExpiry returns the absolute expiry for a deposit made at now.
// A nil requested expiry yields now+defaultTTL. A requested expiry must lie
// strictly after now and no later than now+maxTTL (maxTTL <= 0 disables the
// upper bound). Returns ErrExpiryInvalid on any violation.
func ResolveExpiry(now time.Time, requested *time.Time, defaultTTL, maxTTL time.Duration) (time.Time, error) {
	if requested == nil {
		return now.Add(defaultTTL), nil
	}
	at := *requested
	if !at.After(now) {
		return time.Time{}, ErrExpiryInvalid
	}
	if maxTTL > 0 && at.Sub(now) > maxTTL {
		return time.Time{}, ErrExpiryInvalid
	}
	return at, nil
}
