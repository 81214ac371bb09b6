package irc

import (
	"encoding/base64"
	"testing"
)

func TestSASLPlainHandshake(t *testing.T) {
	a := &SASLPlain{Username: "nick", Password: "hunter2"}
	if a.Handshake() != "PLAIN" {
		t.Errorf("Handshake = %q", a.Handshake())
	}
}

func TestSASLPlainRespond(t *testing.T) {
	a := &SASLPlain{Username: "nick", Password: "hunter2"}
	resp, err := a.Respond("+")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(resp)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	want := "\x00nick\x00hunter2"
	if string(decoded) != want {
		t.Errorf("decoded payload = %q, want %q", decoded, want)
	}
}

func TestSASLPlainRespondRejectsNonEmptyChallenge(t *testing.T) {
	a := &SASLPlain{Username: "nick", Password: "hunter2"}
	if _, err := a.Respond("unexpected"); err == nil {
		t.Error("Respond should reject a non-empty challenge")
	}
}
