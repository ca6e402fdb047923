/*
Package metrics implements collection of the gateway metrics.

Two formats are supported and can be enabled together: Prometheus
(https://github.com/prometheus/client_golang) and the Coda Hale format
(https://github.com/rcrowley/go-metrics), served as JSON.

The collected metrics include the duration of the backend fetches per
instance and backend host, the backend errors per status code, the cache
results (HIT, MISS, VALIDATED, STALE), the outcome of the background
revalidations, the duration of the render operations and of the whole
inbound requests.

The metrics are served on the support listener, under /metrics.
*/
package metrics
