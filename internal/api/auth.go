package api

import (
	"net/http"
	"strings"

	"github.com/mikeyg42/vehicle-security/internal/command"
)

const deviceHeader = "X-Device-ID"

// Authorizer gates commands on a static list of paired device ids. An
// empty list accepts any request that names a device.
type Authorizer struct {
	allowed map[string]struct{}
}

func NewAuthorizer(devices []string) *Authorizer {
	a := &Authorizer{allowed: make(map[string]struct{}, len(devices))}
	for _, d := range devices {
		if d = normalizeDevice(d); d != "" {
			a.allowed[d] = struct{}{}
		}
	}
	return a
}

// Session builds the command session of a request.
func (a *Authorizer) Session(r *http.Request) command.Session {
	id := deviceID(r)
	return command.Session{DeviceID: id, Authorized: a.Allowed(id)}
}

func (a *Authorizer) Allowed(id string) bool {
	id = normalizeDevice(id)
	if id == "" {
		return false
	}
	if len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[id]
	return ok
}

// deviceID reads the header, falling back to the device_id query parameter
// for browser websockets that cannot set headers.
func deviceID(r *http.Request) string {
	if id := r.Header.Get(deviceHeader); id != "" {
		return strings.TrimSpace(id)
	}
	return strings.TrimSpace(r.URL.Query().Get("device_id"))
}

// normalizeDevice lowercases ids so MAC addresses match in either case.
func normalizeDevice(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
