package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageConstructors(t *testing.T) {
	sys := NewSystemMessage("you are helpful")
	user := NewUserMessage("hello")
	asst := NewAssistantMessage("hi there")

	assert.Equal(t, RoleSystem, sys.Role)
	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, RoleAssistant, asst.Role)
	assert.Equal(t, "hello", user.Content)
	assert.False(t, user.Timestamp.IsZero())
}
