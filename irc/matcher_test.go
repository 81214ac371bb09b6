package irc

import "testing"

func TestMatcherWhoisSuccess(t *testing.T) {
	m := newMatcher()
	p := m.Register(kindWhois, "nick")

	line1 := NewMessage(RPL_WHOISUSER, "me", "nick", "user", "host", "*", "real name")
	line2 := NewMessage(RPL_ENDOFWHOIS, "me", "nick", "End of WHOIS")

	if !m.Dispatch(RPL_WHOISUSER, "nick", CasemapASCII, line1) {
		t.Error("Dispatch(RPL_WHOISUSER) should be consumed")
	}
	if !m.Dispatch(RPL_ENDOFWHOIS, "nick", CasemapASCII, line2) {
		t.Error("Dispatch(RPL_ENDOFWHOIS) should be consumed")
	}

	lines, err := p.Wait(nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
}

func TestMatcherWhoisNoSuchNick(t *testing.T) {
	m := newMatcher()
	p := m.Register(kindWhois, "nick")

	line := NewMessage(ERR_NOSUCHNICK, "me", "nick", "No such nick")
	if !m.Dispatch(ERR_NOSUCHNICK, "nick", CasemapASCII, line) {
		t.Error("Dispatch(ERR_NOSUCHNICK) should be consumed")
	}

	_, err := p.Wait(nil)
	if err == nil {
		t.Fatal("Wait should fail")
	}
	ae, ok := err.(*Err)
	if !ok || ae.Kind != ErrKindAsyncRequestError {
		t.Errorf("err = %#v, want ErrKindAsyncRequestError", err)
	}
}

func TestMatcherDoesNotCrossTalk(t *testing.T) {
	m := newMatcher()
	pAlice := m.Register(kindWhois, "alice")
	pBob := m.Register(kindWhois, "bob")

	line := NewMessage(RPL_ENDOFWHOIS, "me", "alice", "End of WHOIS")
	m.Dispatch(RPL_ENDOFWHOIS, "alice", CasemapASCII, line)

	select {
	case <-pAlice.done:
	default:
		t.Fatal("alice's request should have resolved")
	}
	select {
	case <-pBob.done:
		t.Fatal("bob's request should still be pending")
	default:
	}
}

func TestMatcherOldestFirstOnSharedTarget(t *testing.T) {
	m := newMatcher()
	first := m.Register(kindNames, "chan")
	second := m.Register(kindNames, "chan")

	line := NewMessage(RPL_ENDOFNAMES, "me", "chan", "End of NAMES")
	m.Dispatch(RPL_ENDOFNAMES, "chan", CasemapASCII, line)

	select {
	case <-first.done:
	default:
		t.Fatal("the oldest registered request should resolve first")
	}
	select {
	case <-second.done:
		t.Fatal("the second request should still be pending")
	default:
	}
}

func TestMatcherCancel(t *testing.T) {
	m := newMatcher()
	p := m.Register(kindWhois, "nick")

	cancel := make(chan struct{})
	close(cancel)
	_, err := p.Wait(cancel)
	if err != ErrCancelled {
		t.Errorf("err = %v, want ErrCancelled", err)
	}

	line := NewMessage(RPL_ENDOFWHOIS, "me", "nick", "End of WHOIS")
	if m.Dispatch(RPL_ENDOFWHOIS, "nick", CasemapASCII, line) {
		t.Error("a cancelled request must not consume further replies")
	}
}

func TestMatcherDisconnectAll(t *testing.T) {
	m := newMatcher()
	p := m.Register(kindWhois, "nick")
	m.DisconnectAll()

	_, err := p.Wait(nil)
	if err != ErrDisconnected {
		t.Errorf("err = %v, want ErrDisconnected", err)
	}
}
