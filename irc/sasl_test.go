package irc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSASLPlain(t *testing.T) {
	auth := &SASLPlain{Username: "user", Password: "pass"}
	assert.Equal(t, "PLAIN", auth.Handshake())

	res, err := auth.Respond("+")
	assert.NoError(t, err)
	assert.Equal(t, "dXNlcgB1c2VyAHBhc3M=", res)

	_, err = auth.Respond("challenge")
	assert.Error(t, err)
}

func TestSplitAuthenticate(t *testing.T) {
	assert.Equal(t, []string{"abc"}, splitAuthenticate("abc"))
	assert.Equal(t, []string{"+"}, splitAuthenticate(""))

	exact := strings.Repeat("a", authenticateChunkLen)
	assert.Equal(t, []string{exact, "+"}, splitAuthenticate(exact))

	long := strings.Repeat("b", authenticateChunkLen+10)
	assert.Equal(t, []string{long[:authenticateChunkLen], long[authenticateChunkLen:]}, splitAuthenticate(long))
}
