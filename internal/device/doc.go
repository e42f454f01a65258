// Package device tracks connected client devices and fans notifications
// out to them. Delivery is best-effort over whatever transport the caller
// hands in via the Conn interface.
package device
