package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare object",
			in:   `{"score": 0.7}`,
			want: `{"score": 0.7}`,
		},
		{
			name: "surrounding prose",
			in:   `Here is my answer: {"score": 0.7} hope that helps`,
			want: `{"score": 0.7}`,
		},
		{
			name: "code fence",
			in:   "```json\n{\"score\": 0.7}\n```",
			want: `{"score": 0.7}`,
		},
		{
			name: "nested braces",
			in:   `{"a": {"b": 1}, "c": 2}`,
			want: `{"a": {"b": 1}, "c": 2}`,
		},
		{
			name: "braces inside strings",
			in:   `{"rationale": "uses { and } freely"}`,
			want: `{"rationale": "uses { and } freely"}`,
		},
		{
			name: "escaped quote inside string",
			in:   `{"rationale": "quoted \" brace {"}`,
			want: `{"rationale": "quoted \" brace {"}`,
		},
		{
			name: "no object",
			in:   "sorry, I cannot help with that",
			want: "",
		},
		{
			name: "unbalanced",
			in:   `{"score": 0.7`,
			want: "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, extractJSON(tc.in))
		})
	}
}

func TestDecodeResult(t *testing.T) {
	t.Parallel()

	got, ok := decodeResult("```json\n{\"score\": 0.85, \"decision\": \"push\", \"rationale\": \"VIP deadline\", \"tags\": [\"vip\"]}\n```")
	assert.True(t, ok)
	assert.InDelta(t, 0.85, got.Score, 1e-9)
	assert.Equal(t, DecisionPush, got.Decision)
	assert.Equal(t, "VIP deadline", got.Rationale)
	assert.Equal(t, []string{"vip"}, got.Tags)
}

func TestDecodeResultDefaults(t *testing.T) {
	t.Parallel()

	// Missing score defaults to 0.5, bad decision clamps to summarize,
	// out-of-range score clamps into [0, 1].
	got, ok := decodeResult(`{"decision": "panic"}`)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, got.Score, 1e-9)
	assert.Equal(t, DecisionSummarize, got.Decision)
	assert.Equal(t, "No rationale provided", got.Rationale)

	got, ok = decodeResult(`{"score": 3.2, "decision": "push"}`)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, got.Score, 1e-9)

	got, ok = decodeResult(`{"score": -0.5, "decision": "suppress"}`)
	assert.True(t, ok)
	assert.Zero(t, got.Score)
}

func TestDecodeResultGarbage(t *testing.T) {
	t.Parallel()

	_, ok := decodeResult("the notification seems important")
	assert.False(t, ok)

	_, ok = decodeResult(`{"score": "not a number"}`)
	assert.False(t, ok)
}
