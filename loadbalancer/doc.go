/*
Package loadbalancer implements the strategies choosing the backend base
URL of an instance when remoteUrlBase lists more than one.

single Strategy

	Always the first base URL.

roundrobin Strategy

	Requests go round robin to the base URLs. It has a mutex to update
	the index and starts at a random index.

iphash Strategy

	The base URL is chosen by a jump consistent hash of the xxhash of
	the client IP, which is looked up from the X-Forwarded-For header
	with the remote IP as the fallback.

stickysession Strategy

	The first request of a session is balanced round robin, the chosen
	index is stored in the session and reused by the following
	requests of the same session.
*/
package loadbalancer
