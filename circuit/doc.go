/*
Package circuit implements the per backend host circuit breakers of the
fetch client.

A breaker opens when the gateway couldn't connect to a backend host or
received a >=500 status code from it at least N times in a row, N being
the breakerFailures property of the instance. When open, the fetches to
that host fail with 503 - Service Unavailable during breakerTimeout,
without calling the backend. After the timeout the breaker goes into
half-open state, where it lets HalfOpenRequests calls through. If any of
them fails, it opens again, if all succeed, it closes.

The breakers are always assigned to backend hosts, so that the outcome of
the calls to one host never affects another host. The registry holds the
breakers of an instance and drops the ones idle for longer than IdleTTL.

The breakers are disabled when breakerFailures is 0, which is the
default.
*/
package circuit
