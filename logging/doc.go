/*
Package logging implements the application log, the access log of the
inbound requests and the fetch log of the backend calls.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

Packages log through logrus directly, or through the Logger interface
when a component accepts an injected logger:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
		log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set the level, to switch
to JSON, and to set a common prefix for each log entry. Setting the prefix
may be a good idea when the access log is enabled and its output is the
same as the one of the application log.

# Access Log

The access log prints HTTP access information in the Apache combined
access log format, extended with the duration, the requested host and the
name of the instance that served the request. It can be written as JSON.

# Fetch Log

The fetch log records every call made to a backend: target, request line,
status, duration and the cache status. Entries with an error status are
logged on warning level, the others on info level.
*/
package logging
