// Package web holds the browser tracker script served by the public API.
package web

import (
	_ "embed"
)

//go:embed tracker.js
var trackerJS string

// TrackerTemplate returns the tracker script as a text/template source.
// It expects BaseURL, DeviceCookie, SessionCookie, DeviceMaxAge and
// SessionMaxAge.
func TrackerTemplate() string {
	return trackerJS
}
