package logging

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// The access log line is the Apache combined log format, followed by the
// duration in milliseconds, the requested host and the instance:
//
//	remote_host - - [date] "method uri protocol" status size "referer" "user_agent" duration host instance
const (
	dateFormat      = "02/Jan/2006:15:04:05 -0700"
	accessLogFormat = `%s - - [%s] "%s %s %s" %d %d "%s" "%s" %d %s %s` + "\n"
)

// order of the values in accessLogFormat
var accessLogKeys = []string{
	"host", "timestamp", "method", "uri", "proto",
	"status", "response-size", "referer", "user-agent",
	"duration", "requested-host", "instance",
}

type accessLogFormatter struct{}

// AccessEntry is an access log entry.
type AccessEntry struct {

	// The client request.
	Request *http.Request

	// The status code of the response.
	StatusCode int

	// The size of the response in bytes.
	ResponseSize int64

	// The time spent processing request.
	Duration time.Duration

	// The time that the request was received.
	RequestTime time.Time

	// The name of the instance that served the request, if any.
	Instance string
}

var accessLog *logrus.Logger

// clientHost returns the address of the client without the port. The
// first address of X-Forwarded-For takes precedence over the remote
// address of the connection.
func clientHost(r *http.Request) string {
	a := r.RemoteAddr
	if ff := r.Header.Get("X-Forwarded-For"); ff != "" {
		a, _, _ = strings.Cut(ff, ",")
		a = strings.TrimSpace(a)
	}

	if h, _, err := net.SplitHostPort(a); err == nil {
		a = h
	}

	if a == "" {
		return "-"
	}

	return a
}

func (accessLogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	values := make([]interface{}, len(accessLogKeys))
	for i, key := range accessLogKeys {
		values[i] = e.Data[key]
	}

	return []byte(fmt.Sprintf(accessLogFormat, values...)), nil
}

func (entry *AccessEntry) fields() logrus.Fields {
	instance := entry.Instance
	if instance == "" {
		instance = "-"
	}

	f := logrus.Fields{
		"timestamp":      entry.RequestTime.Format(dateFormat),
		"host":           "-",
		"method":         "",
		"uri":            "",
		"proto":          "",
		"referer":        "",
		"user-agent":     "",
		"requested-host": "",
		"status":         entry.StatusCode,
		"response-size":  entry.ResponseSize,
		"duration":       entry.Duration.Milliseconds(),
		"instance":       instance,
	}

	if r := entry.Request; r != nil {
		f["host"] = clientHost(r)
		f["method"] = r.Method
		f["uri"] = r.RequestURI
		f["proto"] = r.Proto
		f["referer"] = r.Referer()
		f["user-agent"] = r.UserAgent()
		f["requested-host"] = r.Host
	}

	return f
}

// LogAccess logs an inbound request to the access log. Additional fields
// are only visible in the JSON format.
func LogAccess(entry *AccessEntry, additional map[string]interface{}) {
	if accessLog == nil || entry == nil {
		return
	}

	fields := entry.fields()
	for k, v := range additional {
		fields[k] = v
	}

	accessLog.WithFields(fields).Infoln()
}
