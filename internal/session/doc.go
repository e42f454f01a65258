// Package session hosts long-lived conversational execution contexts.
//
// The Registry is the execution substrate of the server: it owns session
// lifecycle state, serializes execution per session, and builds executors
// through a cached Builder. Executors are opaque backends; the Anthropic
// implementation talks to the Messages API, the mock answers canned text.
package session
