package irc

import (
	"bytes"
	"encoding/base64"
	"errors"
)

// SASLClient is a SASL mechanism driven by the session during capability
// negotiation.
type SASLClient interface {
	// Handshake returns the mechanism name sent with the first AUTHENTICATE.
	Handshake() (mech string)
	// Respond returns the base64 response to a server challenge. An error
	// aborts the exchange.
	Respond(challenge string) (res string, err error)
}

type SASLPlain struct {
	Username string
	Password string
}

func (auth *SASLPlain) Handshake() (mech string) {
	mech = "PLAIN"
	return
}

func (auth *SASLPlain) Respond(challenge string) (res string, err error) {
	if challenge != "+" {
		err = errors.New("unexpected challenge")
		return
	}

	user := []byte(auth.Username)
	pass := []byte(auth.Password)
	payload := bytes.Join([][]byte{user, user, pass}, []byte{0})
	res = base64.StdEncoding.EncodeToString(payload)

	return
}

// authenticateChunkLen is the maximum length of an AUTHENTICATE payload.
const authenticateChunkLen = 400

// splitAuthenticate splits a SASL response into AUTHENTICATE payloads. A
// response whose length is a multiple of the chunk length is terminated by
// "+".
func splitAuthenticate(res string) (chunks []string) {
	for len(res) >= authenticateChunkLen {
		chunks = append(chunks, res[:authenticateChunkLen])
		res = res[authenticateChunkLen:]
	}
	if res == "" {
		res = "+"
	}
	chunks = append(chunks, res)
	return
}
