package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{name: "no data", msg: Message{Type: MessageTypeOk}, want: `{"type":"ok"}`},
		{name: "hash", msg: Message{Type: MessageTypeHash, Data: "abc"}, want: `{"type":"hash","data":"abc"}`},
		{name: "errors", msg: Message{Type: MessageTypeErrors, Data: BuildProblems{"boom"}}, want: `{"type":"errors","data":["boom"]}`},
		{name: "custom", msg: NewMessage("custom", map[string]int{"n": 1}), want: `{"type":"custom","data":{"n":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.msg.Encode()
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestBuildStatsResult(t *testing.T) {
	assert.Equal(t, "ok", BuildStats{Hash: "a"}.Result())
	assert.True(t, BuildStats{}.Clean())
	assert.Equal(t, "warnings", BuildStats{Warnings: []string{"w"}}.Result())
	assert.Equal(t, "errors", BuildStats{Errors: []string{"e"}, Warnings: []string{"w"}}.Result())
	assert.False(t, BuildStats{Errors: []string{"e"}}.Clean())
}
