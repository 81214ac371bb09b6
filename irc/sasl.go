package irc

import (
	"bytes"
	"encoding/base64"
	"errors"
)

// SASLClient drives one SASL mechanism's challenge/response exchange.
type SASLClient interface {
	// Handshake returns the mechanism name sent in "AUTHENTICATE <mech>".
	Handshake() (mech string)
	// Respond computes the base64 response to a server challenge. An empty
	// challenge arrives as "+" per spec 4.5.
	Respond(challenge string) (response string, err error)
}

// SASLPlain implements the PLAIN mechanism (spec 1/4.5): the only mechanism
// this core speaks.
type SASLPlain struct {
	Authzid  string // authorization identity; usually left empty
	Username string
	Password string
}

func (a *SASLPlain) Handshake() (mech string) {
	return "PLAIN"
}

func (a *SASLPlain) Respond(challenge string) (response string, err error) {
	if challenge != "+" {
		return "", errors.New("irc: sasl plain: unexpected non-empty challenge")
	}
	payload := bytes.Join([][]byte{
		[]byte(a.Authzid),
		[]byte(a.Username),
		[]byte(a.Password),
	}, []byte{0})
	return base64.StdEncoding.EncodeToString(payload), nil
}
