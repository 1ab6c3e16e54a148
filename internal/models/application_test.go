package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestApplication_AnswerByKey(t *testing.T) {
	app := &Application{
		Answers: []Answer{
			{Key: "Character name", Value: "Ana"},
			{Key: "Server access password", Value: "hunter2"},
		},
	}

	tests := []struct {
		fragment string
		want     string
		found    bool
	}{
		{"password", "hunter2", true},
		{"PASSWORD", "hunter2", true},
		{"name", "Ana", true},
		{"steam", "", false},
	}

	for _, tt := range tests {
		got, ok := app.AnswerByKey(tt.fragment)
		assert.Equal(t, tt.found, ok, "fragment %q", tt.fragment)
		assert.Equal(t, tt.want, got, "fragment %q", tt.fragment)
	}
}
