/*
Package fetch implements the backend calls of an instance.

A Client creates the outgoing request of a resource.Context: it chooses
the base URL with the load balancing strategy, resolves the relative URL,
merges the parameters into the query, copies the allowed inbound headers
and cookies, replays the cookies of the session, and lets the
authentication handler decorate the request. Executing the request goes
through the circuit breaker of the backend host and the configured
transport, typically the cache. The responses are decoded, the backend
cookies are stored in the session, and error statuses are returned as
*resource.ErrorPage.

# Header lists

The request headers Authorization, Connection, Content-Length,
Cache-Control, Cookie, Expect, Host, Max-Forwards, Pragma,
Proxy-Authorization, TE, Trailer, Transfer-Encoding and Upgrade are not
forwarded to the backends. The response headers Connection,
Content-Length, Content-MD5, Date, Keep-Alive, Proxy-Authenticate,
Set-Cookie, Trailer, Transfer-Encoding and WWW-Authenticate are not
forwarded to the clients. Both lists can be extended, and any header can
be re-enabled with the forward lists.

# Errors

A transport failure is a 502 error page, a timeout, including the
maxwait of an include, is a 504, and an open circuit breaker is a 503.
*/
package fetch
