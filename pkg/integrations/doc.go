// Package integrations provides the HTTP plumbing shared by registry clients.
//
// # Overview
//
// [Client] wraps an [http.Client] with default headers, status mapping, retry
// of transient failures and a [cache.Cache] for decoded JSON documents. The
// [npm] subpackage builds on it to fetch packuments.
//
// # Errors
//
// A 404 is reported as [ErrNotFound]. Connection failures and 5xx responses
// wrap [ErrNetwork] inside an [httputil.RetryableError] and are retried by
// [Client.Cached]; other statuses wrap [ErrNetwork] and fail immediately.
// Callers distinguish "package does not exist" from "registry unavailable"
// with errors.Is.
//
// [npm]: github.com/matzehuels/stackpm/pkg/integrations/npm
// [cache.Cache]: github.com/matzehuels/stackpm/pkg/cache.Cache
// [httputil.RetryableError]: github.com/matzehuels/stackpm/pkg/httputil.RetryableError
package integrations
