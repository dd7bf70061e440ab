// Package ratelimit throttles mutating admin operations per principal using
// golang.org/x/time/rate token buckets.
package ratelimit
