package irc

import (
	"sync"
)

// requestKind names a pending-request shape: which numerics accumulate into
// it, which terminates it, and which fail it (spec 4.6).
type requestKind struct {
	name        string
	accumulate  map[string]struct{}
	terminators map[string]struct{}
	errors      map[string]struct{}
}

func newRequestKind(name string, accumulate, terminators, errs []string) requestKind {
	return requestKind{
		name:        name,
		accumulate:  toStrSet(accumulate),
		terminators: toStrSet(terminators),
		errors:      toStrSet(errs),
	}
}

func toStrSet(xs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		set[x] = struct{}{}
	}
	return set
}

var (
	kindWhois = newRequestKind("WHOIS",
		[]string{RPL_WHOISUSER, RPL_WHOISSERVER, RPL_WHOISOPERATOR, RPL_WHOISIDLE, RPL_WHOISCHANNELS, RPL_WHOISACCOUNT, RPL_WHOISSECURE, RPL_AWAY},
		[]string{RPL_ENDOFWHOIS},
		[]string{ERR_NOSUCHNICK, ERR_NOSUCHSERVER()})

	kindWho = newRequestKind("WHO",
		[]string{RPL_WHOREPLY, RPL_WHOSPCRPL},
		[]string{RPL_ENDOFWHO},
		[]string{ERR_NOSUCHSERVER()})

	kindList = newRequestKind("LIST",
		[]string{RPL_LIST},
		[]string{RPL_LISTEND},
		nil)

	kindNames = newRequestKind("NAMES",
		[]string{RPL_NAMREPLY},
		[]string{RPL_ENDOFNAMES},
		[]string{ERR_NOSUCHCHANNEL})

	kindBanlist = newRequestKind("BANLIST",
		[]string{RPL_BANLIST},
		[]string{RPL_ENDOFBANLIST},
		[]string{ERR_CHANOPRIVSNEEDED})

	kindMonitorStatus = newRequestKind("MONITOR",
		[]string{RPL_MONLIST},
		[]string{RPL_ENDOFMONLIST},
		[]string{ERR_MONLISTFULL})
)

// ERR_NOSUCHSERVER is rare enough in the pack that we spell its numeric out
// locally rather than widen the exported numeric table for one code.
func ERR_NOSUCHSERVER() string { return "402" }

// pendingRequest accumulates reply lines for one outstanding request and
// resolves its completion slot exactly once (spec 4.6/8: "request
// completeness").
type pendingRequest struct {
	kind   requestKind
	target string // folded target, "" if kind has none

	mu        sync.Mutex
	once      sync.Once
	done      chan struct{}
	lines     []Message
	err       error
	cancelled bool
}

func newPendingRequest(kind requestKind, target string) *pendingRequest {
	return &pendingRequest{
		kind:   kind,
		target: target,
		done:   make(chan struct{}),
	}
}

func (p *pendingRequest) resolve(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// Wait blocks until the request resolves (terminator, error, cancel or
// disconnect) or cancel fires, whichever comes first.
func (p *pendingRequest) Wait(cancel <-chan struct{}) ([]Message, error) {
	select {
	case <-p.done:
	case <-cancel:
		p.cancelNow()
		<-p.done
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.lines, nil
}

func (p *pendingRequest) cancelNow() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	p.resolve(ErrCancelled)
}

func (p *pendingRequest) append(line Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return
	}
	p.lines = append(p.lines, line)
}

// matcher is the pending-request registry keyed by (kind, folded target),
// oldest-first on ties (spec 4.6 rule 2).
type matcher struct {
	mu     sync.Mutex
	byKind map[string][]*pendingRequest // kind name -> queue, oldest first
}

func newMatcher() *matcher {
	return &matcher{byKind: map[string][]*pendingRequest{}}
}

// Register enqueues a pending request before the provoking command is
// written, guaranteeing it observes the server's reply (spec 5 ordering
// guarantee 4).
func (m *matcher) Register(kind requestKind, target string) *pendingRequest {
	p := newPendingRequest(kind, target)
	m.mu.Lock()
	m.byKind[kind.name] = append(m.byKind[kind.name], p)
	m.mu.Unlock()
	return p
}

// Dispatch feeds one inbound numeric line to the oldest matching pending
// request of each kind, returning true if it was consumed by at least one.
// Cancelled requests are skipped.
func (m *matcher) Dispatch(numeric string, targetParam string, fold CaseMapping, line Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	consumed := false
	for kindName, queue := range m.byKind {
		idx := m.firstMatchLocked(queue, numeric, targetParam, fold)
		if idx < 0 {
			continue
		}
		p := queue[idx]

		switch {
		case isIn(numeric, p.kind.errors):
			p.append(line)
			p.resolve(asyncRequestErr(numeric, line))
			m.removeLocked(kindName, idx)
			consumed = true
		case isIn(numeric, p.kind.terminators):
			p.append(line)
			p.resolve(nil)
			m.removeLocked(kindName, idx)
			consumed = true
		case isIn(numeric, p.kind.accumulate):
			p.append(line)
			consumed = true
		}
	}
	return consumed
}

func (m *matcher) firstMatchLocked(queue []*pendingRequest, numeric, targetParam string, fold CaseMapping) int {
	for i, p := range queue {
		if !isIn(numeric, p.kind.accumulate) && !isIn(numeric, p.kind.terminators) && !isIn(numeric, p.kind.errors) {
			continue
		}
		p.mu.Lock()
		cancelled := p.cancelled
		p.mu.Unlock()
		if cancelled {
			continue
		}
		if p.target == "" || targetParam == "" || p.target == fold(targetParam) {
			return i
		}
	}
	return -1
}

func (m *matcher) removeLocked(kindName string, idx int) {
	queue := m.byKind[kindName]
	m.byKind[kindName] = append(queue[:idx], queue[idx+1:]...)
}

func isIn(s string, set map[string]struct{}) bool {
	_, ok := set[s]
	return ok
}

// DisconnectAll fails every outstanding request with ErrDisconnected (spec
// 4.5: "On entry to Disconnected... drain and fail every pending request").
func (m *matcher) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kindName, queue := range m.byKind {
		for _, p := range queue {
			p.resolve(ErrDisconnected)
		}
		delete(m.byKind, kindName)
	}
}
