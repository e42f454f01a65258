// Package scoring decides which notifications warrant immediate attention.
//
// The heuristic Scorer is fast and deterministic; the LLMScorer delegates
// to a model-backed session for nuanced decisions and degrades safely when
// the delegate misbehaves.
package scoring
