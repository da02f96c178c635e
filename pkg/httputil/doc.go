// Package httputil provides retry helpers shared by the registry client, the
// tarball downloader and the store.
//
// [Retry] re-runs an operation with exponential backoff, but only when the
// failure was marked transient by wrapping it in [RetryableError]:
//
//   - connection errors and timeouts
//   - 5xx responses and 429 rate limits
//   - transient filesystem errors while importing into the store
//
// Everything else (404, integrity mismatches, malformed metadata) fails on
// the first attempt.
//
//	err := httputil.RetryWithBackoff(ctx, func() error {
//	    return fetch(ctx, url)
//	})
package httputil
