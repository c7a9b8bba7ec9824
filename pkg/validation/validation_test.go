package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSignalingURL(t *testing.T) {
	assert.NoError(t, ValidateSignalingURL("ws://localhost:8080/ws"))
	assert.NoError(t, ValidateSignalingURL("wss://meet.example.com/rtc"))

	assert.Error(t, ValidateSignalingURL(""))
	assert.Error(t, ValidateSignalingURL("http://example.com/ws"))
	assert.Error(t, ValidateSignalingURL("ws://"))
	assert.Error(t, ValidateSignalingURL("://bad"))
}

func TestValidateIdentifiers(t *testing.T) {
	assert.NoError(t, ValidateUserID("u1"))
	assert.NoError(t, ValidateSessionID("room1"))
	assert.NoError(t, ValidateUserID(strings.Repeat("a", MaxIdentifierLen)))

	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateUserID(strings.Repeat("a", MaxIdentifierLen+1)))
	assert.Error(t, ValidateSessionID(strings.Repeat("b", MaxIdentifierLen+1)))
}

func TestValidateStreamID(t *testing.T) {
	assert.NoError(t, ValidateStreamID("p1:stream-42"))
	assert.NoError(t, ValidateStreamID("abc_DEF-123"))

	assert.Error(t, ValidateStreamID(""))
	assert.Error(t, ValidateStreamID("bad stream"))
	assert.Error(t, ValidateStreamID(strings.Repeat("x", 201)))
}
