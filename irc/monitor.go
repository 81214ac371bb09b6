package irc

import (
	"sort"
	"strings"
)

// PresenceMethod selects which wire protocol backs the monitor list.
type PresenceMethod int

const (
	PresenceNone PresenceMethod = iota
	PresenceMonitor
	PresenceWatch
)

// maxLineBytes is the authoritative batching bound from spec 4.7/8: a
// MONITOR/WATCH line, excluding CRLF, must not exceed this.
const maxLineBytes = 510

// MonitorList is the presence-subscription set abstracting MONITOR and
// WATCH into one API (spec 4.7/C7). Every mutating method is set-like;
// wire traffic is emitted in caps of the smaller of the ISUPPORT-advertised
// batch size (advisory) and the 510-byte line cap (authoritative, spec 8
// scenario 5).
type MonitorList struct {
	method PresenceMethod
	cap    int // ISUPPORT-advertised target cap, 0 = unknown/unbounded
	fold   CaseMapping
	online map[string]bool   // folded nick -> known online
	names  map[string]string // folded nick -> original-case nick
	send   func(Message)

	// onSubscribe/onUnsubscribe let the owning Session keep User.Monitored
	// in sync with this list, so a subscribed nick with no shared channel
	// still satisfies the "not monitored" half of the disappearance policy
	// (spec 3/8). Either may be nil.
	onSubscribe   func(nicks []string)
	onUnsubscribe func(nicks []string)
}

func newMonitorList(fold CaseMapping, send func(Message), onSubscribe, onUnsubscribe func(nicks []string)) *MonitorList {
	return &MonitorList{
		fold:          fold,
		online:        map[string]bool{},
		names:         map[string]string{},
		send:          send,
		onSubscribe:   onSubscribe,
		onUnsubscribe: onUnsubscribe,
	}
}

func (m *MonitorList) configure(method PresenceMethod, capN int, fold CaseMapping) {
	m.method = method
	m.cap = capN
	m.fold = fold
}

func validateNick(nick string) error {
	if strings.ContainsAny(nick, " ,\r\n") {
		return invalidArgument("nickname must not contain space, comma, CR or LF")
	}
	if nick == "" {
		return invalidArgument("nickname must not be empty")
	}
	return nil
}

// Add subscribes to one nickname's presence.
func (m *MonitorList) Add(nick string) error {
	return m.AddRange([]string{nick})
}

// AddRange subscribes to many nicknames at once, batching the wire commands
// per spec 4.7/8 scenario 5.
func (m *MonitorList) AddRange(nicks []string) error {
	if m.method == PresenceNone {
		return notSupported("network advertises neither MONITOR nor WATCH")
	}
	for _, n := range nicks {
		if err := validateNick(n); err != nil {
			return err
		}
	}
	for _, n := range nicks {
		m.names[m.fold(n)] = n
	}
	m.emitBatches("+", nicks)
	if m.onSubscribe != nil {
		m.onSubscribe(nicks)
	}
	return nil
}

// Remove unsubscribes from one nickname.
func (m *MonitorList) Remove(nick string) error {
	return m.RemoveRange([]string{nick})
}

// RemoveRange unsubscribes from many nicknames at once.
func (m *MonitorList) RemoveRange(nicks []string) error {
	if m.method == PresenceNone {
		return notSupported("network advertises neither MONITOR nor WATCH")
	}
	for _, n := range nicks {
		if err := validateNick(n); err != nil {
			return err
		}
	}
	for _, n := range nicks {
		cf := m.fold(n)
		delete(m.names, cf)
		delete(m.online, cf)
	}
	m.emitBatches("-", nicks)
	if m.onUnsubscribe != nil {
		m.onUnsubscribe(nicks)
	}
	return nil
}

// Clear unsubscribes from everything.
func (m *MonitorList) Clear() error {
	if m.method == PresenceNone {
		return notSupported("network advertises neither MONITOR nor WATCH")
	}
	all := m.List()
	return m.RemoveRange(all)
}

func (m *MonitorList) emitBatches(sign string, nicks []string) {
	batchCap := m.cap
	if batchCap <= 0 {
		batchCap = len(nicks)
		if batchCap == 0 {
			batchCap = 1
		}
	}

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		m.send(m.buildMessage(sign, batch))
		batch = nil
	}

	for _, n := range nicks {
		candidate := append(append([]string{}, batch...), n)
		if len(candidate) > batchCap || m.lineTooLong(sign, candidate) {
			flush()
			candidate = []string{n}
		}
		batch = candidate
	}
	flush()
}

func (m *MonitorList) lineTooLong(sign string, nicks []string) bool {
	// Serialize truncates at the wire limit, so measure the untruncated
	// length here.
	msg := m.buildMessage(sign, nicks)
	n := len(msg.Command)
	for i, p := range msg.Params {
		n += 1 + len(p)
		if i == len(msg.Params)-1 && (p == "" || strings.ContainsRune(p, ' ') || strings.HasPrefix(p, ":")) {
			n++
		}
	}
	return n > maxLineBytes
}

func (m *MonitorList) buildMessage(sign string, nicks []string) Message {
	switch m.method {
	case PresenceMonitor:
		return NewMessage("MONITOR", sign, strings.Join(nicks, ","))
	case PresenceWatch:
		args := make([]string, len(nicks))
		for i, n := range nicks {
			args[i] = sign + n
		}
		return NewMessage("WATCH", args...)
	default:
		return Message{}
	}
}

// List returns every subscribed nickname, original case, sorted.
func (m *MonitorList) List() []string {
	out := make([]string, 0, len(m.names))
	for _, n := range m.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsOnline reports whether nick is currently believed online.
func (m *MonitorList) IsOnline(nick string) bool {
	return m.online[m.fold(nick)]
}

func (m *MonitorList) markOnline(nick string) {
	cf := m.fold(nick)
	if _, subscribed := m.names[cf]; subscribed {
		m.online[cf] = true
	}
}

func (m *MonitorList) markOffline(nick string) {
	cf := m.fold(nick)
	if _, subscribed := m.names[cf]; subscribed {
		m.online[cf] = false
	}
}

// Union, Intersect, Except and SymmetricExcept are the set-like operations
// named in spec 4.7, operating on folded nickname sets.
func (m *MonitorList) Union(other []string) []string {
	set := map[string]struct{}{}
	seen := toSet(m.List(), m.fold)
	for _, n := range m.List() {
		set[n] = struct{}{}
	}
	for _, n := range other {
		if _, ok := seen[m.fold(n)]; !ok {
			seen[m.fold(n)] = struct{}{}
			set[n] = struct{}{}
		}
	}
	return setToSlice(set)
}

func (m *MonitorList) Intersect(other []string) []string {
	otherSet := toSet(other, m.fold)
	set := map[string]struct{}{}
	for _, n := range m.List() {
		if _, ok := otherSet[m.fold(n)]; ok {
			set[n] = struct{}{}
		}
	}
	return setToSlice(set)
}

func (m *MonitorList) Except(other []string) []string {
	otherSet := toSet(other, m.fold)
	set := map[string]struct{}{}
	for _, n := range m.List() {
		if _, ok := otherSet[m.fold(n)]; !ok {
			set[n] = struct{}{}
		}
	}
	return setToSlice(set)
}

func (m *MonitorList) SymmetricExcept(other []string) []string {
	mine := toSet(m.List(), m.fold)
	theirs := toSet(other, m.fold)
	set := map[string]struct{}{}
	for n := range mine {
		if _, ok := theirs[n]; !ok {
			set[n] = struct{}{}
		}
	}
	for n := range theirs {
		if _, ok := mine[n]; !ok {
			set[n] = struct{}{}
		}
	}
	return setToSlice(set)
}

func (m *MonitorList) IsSubsetOf(other []string) bool {
	otherSet := toSet(other, m.fold)
	for _, n := range m.List() {
		if _, ok := otherSet[m.fold(n)]; !ok {
			return false
		}
	}
	return true
}

func (m *MonitorList) Equals(other []string) bool {
	return m.IsSubsetOf(other) && len(other) == len(m.List())
}

func toSet(nicks []string, fold CaseMapping) map[string]struct{} {
	set := make(map[string]struct{}, len(nicks))
	for _, n := range nicks {
		set[fold(n)] = struct{}{}
	}
	return set
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
