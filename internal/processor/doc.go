// Package processor runs the notification triage pipeline: it scores
// stored notifications, records the outcome and pushes high-value ones
// to connected devices.
package processor
