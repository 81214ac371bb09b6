package irc

import "testing"

func newTestMonitorList(method PresenceMethod, cap int) (*MonitorList, *[]Message) {
	var sent []Message
	m := newMonitorList(CasemapASCII, func(msg Message) {
		sent = append(sent, msg)
	}, func(nicks []string) {}, func(nicks []string) {})
	m.configure(method, cap, CasemapASCII)
	return m, &sent
}

func TestMonitorAddSendsMonitorLine(t *testing.T) {
	m, sent := newTestMonitorList(PresenceMonitor, 0)
	if err := m.Add("alice"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("got %d messages, want 1", len(*sent))
	}
	if (*sent)[0].Command != "MONITOR" {
		t.Errorf("Command = %q", (*sent)[0].Command)
	}
}

func TestMonitorUnsupportedWithoutMethod(t *testing.T) {
	m, _ := newTestMonitorList(PresenceNone, 0)
	if err := m.Add("alice"); err == nil {
		t.Fatal("Add should fail when no presence method is configured")
	}
}

func TestMonitorBatchingRespectsCap(t *testing.T) {
	m, sent := newTestMonitorList(PresenceMonitor, 3)
	err := m.AddRange([]string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	if len(*sent) != 2 {
		t.Fatalf("got %d MONITOR lines, want 2 batches for a cap of 3 over 5 nicks", len(*sent))
	}
}

func TestMonitorOnlineTracking(t *testing.T) {
	m, _ := newTestMonitorList(PresenceMonitor, 0)
	m.Add("alice")
	if m.IsOnline("alice") {
		t.Error("alice should not be online before a MONITOR reply")
	}
	m.markOnline("Alice")
	if !m.IsOnline("alice") {
		t.Error("alice should be online after markOnline")
	}
	m.markOffline("alice")
	if m.IsOnline("alice") {
		t.Error("alice should be offline after markOffline")
	}
}

func TestMonitorSetOperations(t *testing.T) {
	m, _ := newTestMonitorList(PresenceMonitor, 0)
	m.AddRange([]string{"alice", "bob"})

	if !m.Equals([]string{"alice", "bob"}) {
		t.Error("Equals should hold for an identical set")
	}
	if got := m.Intersect([]string{"bob", "carol"}); len(got) != 1 || got[0] != "bob" {
		t.Errorf("Intersect = %v", got)
	}
	if got := m.Except([]string{"bob"}); len(got) != 1 || got[0] != "alice" {
		t.Errorf("Except = %v", got)
	}
	if !m.IsSubsetOf([]string{"alice", "bob", "carol"}) {
		t.Error("IsSubsetOf should hold")
	}
}

func TestMonitorValidateNickRejectsSpacesAndCommas(t *testing.T) {
	m, _ := newTestMonitorList(PresenceMonitor, 0)
	if err := m.Add("ali ce"); err == nil {
		t.Error("nickname with a space should be rejected")
	}
	if err := m.Add("alice,bob"); err == nil {
		t.Error("nickname with a comma should be rejected")
	}
}

func TestMonitorLineTooLongSplits(t *testing.T) {
	m, sent := newTestMonitorList(PresenceMonitor, 0)
	// No ISUPPORT-advertised cap: the 510-byte line bound alone must still
	// force a split across a large enough batch.
	nicks := make([]string, 100)
	for i := range nicks {
		nicks[i] = "nickname_number_of_this_user_is_" + string(rune('a'+i%26))
	}
	if err := m.AddRange(nicks); err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	for _, msg := range *sent {
		if len(msg.Serialize()) > maxLineBytes {
			t.Errorf("line exceeds %d bytes: %d", maxLineBytes, len(msg.Serialize()))
		}
	}
	if len(*sent) < 2 {
		t.Errorf("expected the 510-byte bound to force multiple MONITOR lines, got %d", len(*sent))
	}
}
