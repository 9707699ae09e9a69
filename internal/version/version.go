// Package version carries the service's build version.
package version

// Version is bumped on release; it's what the "/" route reports to clients.
const Version = "1.4.0"
