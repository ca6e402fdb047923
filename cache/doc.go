/*
Package cache implements a shared HTTP cache as an http.RoundTripper, in
front of the backend transport of an instance.

Only GET requests are cached. The freshness of a stored response comes
from its s-maxage, max-age or Expires, or when heuristic caching is
enabled, from a fraction of the time since its Last-Modified date. A TTL
configured for the instance, or set per request with WithRequestOptions,
overrides the freshness and makes any response cacheable, error
responses included.

A stale response is revalidated with If-None-Match and
If-Modified-Since. Within the stale-while-revalidate window, the stale
response is returned and the revalidation runs in the background on a
bounded Pool. Within the stale-if-error window, the stale response is
returned when the revalidation fails with a transport error or a 5xx
status. Stale responses carry a Warning: 110 header.

Concurrent misses of the same key are collapsed into a single backend
call.

The entries are kept by a Storage: in memory with least recently used
eviction, or in Redis or Valkey.
*/
package cache
