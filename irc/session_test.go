package irc

import "testing"

func newTestSession(nick string) (*Session, chan Message) {
	out := make(chan Message, 64)
	s := NewSession(out, SessionParams{Nickname: nick, Username: nick, RealName: nick})
	drain(out)
	return s, out
}

// drain empties every currently queued message without blocking.
func drain(out chan Message) []Message {
	var got []Message
	for {
		select {
		case m := <-out:
			got = append(got, m)
		default:
			return got
		}
	}
}

func registerOnline(t *testing.T, s *Session) {
	t.Helper()
	s.HandleMessage(NewMessage(RPL_WELCOME, "tester", "Welcome"))
	s.HandleMessage(NewMessage(RPL_ISUPPORT, "tester", "PREFIX=(ohv)@%+", "CHANMODES=beI,k,l,imnpst", "CASEMAPPING=rfc1459", "MONITOR=3", "NAMESX", "are supported"))
	s.HandleMessage(NewMessage(RPL_ENDOFMOTD, "tester", "End of MOTD"))
	if s.State() != Online {
		t.Fatalf("State() = %v, want Online", s.State())
	}
}

func TestSessionWelcomeAndRenameFolding(t *testing.T) {
	s, _ := newTestSession("Tester")
	registerOnline(t, s)

	// NICK requires a prefix naming the old nick.
	nickMsg := Message{Prefix: &Prefix{Name: "Tester"}, Command: "NICK", Params: []string{"T3ster"}}
	ev := s.HandleMessage(nickMsg)

	sn, ok := ev.(SelfNickEvent)
	if !ok {
		t.Fatalf("event = %#v, want SelfNickEvent", ev)
	}
	if sn.NewNick != "T3ster" {
		t.Errorf("NewNick = %q", sn.NewNick)
	}
	if s.NickCf() != CasemapRFC1459("T3ster") {
		t.Errorf("NickCf() = %q, want folded new nick", s.NickCf())
	}
}

func TestSessionJoinNamesMultiPrefix(t *testing.T) {
	s, out := newTestSession("tester")
	registerOnline(t, s)
	drain(out)

	s.HandleMessage(Message{Prefix: &Prefix{Name: "tester"}, Command: "JOIN", Params: []string{"#chan"}})
	drain(out) // MODE + NAMES requests the self-join triggers

	s.HandleMessage(NewMessage(RPL_NAMREPLY, "tester", "=", "#chan", "@%+alice +bob carol"))
	s.HandleMessage(NewMessage(RPL_ENDOFNAMES, "tester", "#chan", "End of NAMES"))

	ch, ok := s.Channel("#chan")
	if !ok {
		t.Fatal("channel #chan should exist after JOIN")
	}
	alice, ok := ch.Members[CasemapRFC1459("alice")]
	if !ok {
		t.Fatal("alice should be a member")
	}
	if !alice.HasStatus('o') || !alice.HasStatus('h') || !alice.HasStatus('v') {
		t.Errorf("alice status = %v, want all three of o/h/v from the multi-prefix token", alice.Status)
	}
	bob, ok := ch.Members[CasemapRFC1459("bob")]
	if !ok || !bob.HasStatus('v') || bob.HasStatus('o') {
		t.Errorf("bob status = %v, want only v", bob.Status)
	}
	carol, ok := ch.Members[CasemapRFC1459("carol")]
	if !ok || len(carol.Status) != 0 {
		t.Errorf("carol status = %v, want none", carol.Status)
	}
}

func TestSessionWhoisAsyncSuccessAndFailure(t *testing.T) {
	s, out := newTestSession("tester")
	registerOnline(t, s)
	drain(out)

	req, err := s.WhoisAsync("alice")
	if err != nil {
		t.Fatalf("WhoisAsync: %v", err)
	}
	drain(out) // the WHOIS line itself

	s.HandleMessage(NewMessage(RPL_WHOISUSER, "tester", "alice", "auser", "ahost", "*", "Alice"))
	s.HandleMessage(NewMessage(RPL_ENDOFWHOIS, "tester", "alice", "End of WHOIS"))

	lines, err := req.Wait(nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	req2, _ := s.WhoisAsync("ghost")
	drain(out)
	s.HandleMessage(NewMessage(ERR_NOSUCHNICK, "tester", "ghost", "No such nick"))
	if _, err := req2.Wait(nil); err == nil {
		t.Fatal("Wait should fail for a nonexistent nick")
	}
}

func TestSessionMonitorBatchingUnderCap(t *testing.T) {
	s, out := newTestSession("tester")
	registerOnline(t, s) // advertises MONITOR=3
	drain(out)

	err := s.Monitor().AddRange([]string{"alice", "bob", "carol", "dave"})
	if err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	sent := drain(out)
	if len(sent) != 2 {
		t.Fatalf("got %d MONITOR lines, want 2 for a cap of 3 over 4 nicks", len(sent))
	}
	for _, m := range sent {
		if m.Command != "MONITOR" {
			t.Errorf("Command = %q", m.Command)
		}
	}
}

func TestSessionCasemappingMidSessionRekey(t *testing.T) {
	s, out := newTestSession("tester")
	s.HandleMessage(NewMessage(RPL_WELCOME, "tester", "Welcome"))
	s.HandleMessage(NewMessage(RPL_ISUPPORT, "tester", "CASEMAPPING=rfc1459", "are supported"))
	drain(out)

	s.HandleMessage(Message{Prefix: &Prefix{Name: "tester"}, Command: "JOIN", Params: []string{"#Chan{x}"}})
	drain(out)

	if _, ok := s.Channel("#Chan{x}"); !ok {
		t.Fatal("channel should be findable before the case mapping changes")
	}

	s.HandleMessage(NewMessage(RPL_ISUPPORT, "tester", "CASEMAPPING=ascii", "are supported"))

	if _, ok := s.Channel("#Chan{x}"); !ok {
		t.Fatal("channel should still be findable by its original-case name after rekeying")
	}
	ch, _ := s.Channel("#Chan{x}")
	if ch.NameCf != CasemapASCII("#Chan{x}") {
		t.Errorf("NameCf = %q, want ascii fold after rekey", ch.NameCf)
	}
}

func TestSessionPartRemovesChannel(t *testing.T) {
	s, out := newTestSession("tester")
	registerOnline(t, s)
	drain(out)

	s.HandleMessage(Message{Prefix: &Prefix{Name: "tester"}, Command: "JOIN", Params: []string{"#chan"}})
	drain(out)

	ev := s.HandleMessage(Message{Prefix: &Prefix{Name: "tester"}, Command: "PART", Params: []string{"#chan", "bye"}})
	if _, ok := ev.(SelfPartEvent); !ok {
		t.Fatalf("event = %#v, want SelfPartEvent", ev)
	}
	if _, ok := s.Channel("#chan"); ok {
		t.Error("channel should be gone after self PART")
	}
}

func TestSessionCommandsRequireRegistration(t *testing.T) {
	out := make(chan Message, 16)
	s := NewSession(out, SessionParams{Nickname: "tester"})
	drain(out)

	if err := s.Join("#chan", ""); err == nil {
		t.Error("Join before registration should fail")
	}
}

func TestSessionDisconnectFailsPendingRequests(t *testing.T) {
	s, out := newTestSession("tester")
	registerOnline(t, s)
	drain(out)

	req, _ := s.WhoisAsync("alice")
	drain(out)

	s.HandleDisconnect()

	if _, err := req.Wait(nil); err != ErrDisconnected {
		t.Errorf("err = %v, want ErrDisconnected", err)
	}
}
