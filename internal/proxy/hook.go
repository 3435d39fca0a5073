package proxy

import (
	"net/http"
	"regexp"
	"time"

	"github.com/tidwall/gjson"

	"github.com/signagehub/edge/internal/events"
)

// commandPath matches the public and service-local forms of the device
// command endpoint.
var commandPath = regexp.MustCompile(`^/(?:api/)?devices(?:/devices)?/([^/]+)/commands/?$`)

// commandTarget returns the device id when r is a command submission.
func commandTarget(r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		return "", false
	}
	m := commandPath.FindStringSubmatch(r.URL.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// commandIssued builds the event for an accepted command submission. The
// command name is read from the commandType field of the request body.
func commandIssued(deviceID string, body []byte, status int, requestID string, now time.Time) (events.CommandIssued, bool) {
	if status >= http.StatusBadRequest || len(body) == 0 {
		return events.CommandIssued{}, false
	}
	cmd := gjson.GetBytes(body, "commandType")
	if cmd.Type != gjson.String || cmd.Str == "" {
		return events.CommandIssued{}, false
	}
	return events.CommandIssued{
		DeviceID:  deviceID,
		Command:   cmd.Str,
		RequestID: requestID,
		IssuedAt:  now,
	}, true
}
