package irc

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

func secsToTime(secs int64) time.Time {
	return time.Unix(secs, 0)
}

// SessionState is one of the seven lifecycle states of spec 3/4.5. Moves are
// strictly monotonic except that any state can fall to Disconnected.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	SaslAuthenticating
	Registering
	ReceivingServerInfo
	Online
	Disconnecting
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case SaslAuthenticating:
		return "SaslAuthenticating"
	case Registering:
		return "Registering"
	case ReceivingServerInfo:
		return "ReceivingServerInfo"
	case Online:
		return "Online"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// SASLFailurePolicy selects how the session reacts to a failed SASL
// exchange (spec 9 open question: "configuration, not core default").
type SASLFailurePolicy int

const (
	SASLAbortOnFailure SASLFailurePolicy = iota
	SASLContinueOnFailure
)

// SupportedCapabilities lists the IRCv3 extensions this core negotiates and
// acts on (spec 6). Only these are requested with CAP REQ, and only when the
// server advertises them; there is no API for requesting others.
var SupportedCapabilities = map[string]struct{}{
	"account-notify": {},
	"cap-notify":     {},
	"chghost":        {},
	"extended-join":  {},
	"multi-prefix":   {},
	"sasl":           {},
}

// SessionParams configures a new Session (spec 6: "construct with a local
// user identity... optional SASL credentials").
type SessionParams struct {
	Nickname string
	Username string
	RealName string
	Password string // server PASS, optional

	Auth          SASLClient
	SASLOnFailure SASLFailurePolicy

	Flood FloodLimits
}

// Session is the client-side state machine, ISUPPORT/case-mapping engine,
// state tracker and event source for one IRC connection (C4/C5 of spec 2).
// Exactly one goroutine is meant to drive it via HandleMessage (spec 5); all
// other contexts must go through the accessor methods, which take Lock.
type Session struct {
	out chan<- Message

	mu    sync.Mutex // guards every field read from outside the driving goroutine
	state SessionState

	nick          string
	nickCf        string
	ident         string
	real          string
	acct          string
	host          string
	pass          string
	auth          SASLClient
	saslOnFailure SASLFailurePolicy

	availableCaps map[string]string
	enabledCaps   map[string]struct{}
	saslInFlight  bool

	isupport *ISupport
	fold     CaseMapping

	users    map[string]*User
	channels map[string]*Channel

	monitor *MonitorList
	match   *matcher
}

// NewSession constructs a Session and queues the registration handshake
// (CAP LS, PASS, NICK, USER) onto out. It does not dial anything: the
// transport and the reader/writer goroutines are the caller's concern (spec
// 1's "external collaborator" transport boundary), typically via
// ChanInOut.
func NewSession(out chan<- Message, params SessionParams) *Session {
	s := &Session{
		out:           out,
		state:         Connecting,
		nick:          params.Nickname,
		ident:         params.Username,
		real:          params.RealName,
		pass:          params.Password,
		auth:          params.Auth,
		saslOnFailure: params.SASLOnFailure,
		availableCaps: map[string]string{},
		enabledCaps:   map[string]struct{}{},
		isupport:      NewISupport(),
		users:         map[string]*User{},
		channels:      map[string]*Channel{},
		match:         newMatcher(),
	}
	s.fold = s.isupport.CaseMapper()
	s.nickCf = s.fold(s.nick)
	s.monitor = newMonitorList(s.fold, s.send, s.markMonitored, s.unmarkMonitored)

	if s.ident == "" {
		s.ident = s.nick
	}
	if s.real == "" {
		s.real = s.nick
	}

	s.send(NewMessage("CAP", "LS", "302"))
	if s.pass != "" {
		s.send(NewMessage("PASS", s.pass))
	}
	s.send(NewMessage("NICK", s.nick))
	s.send(NewMessage("USER", s.ident, "0", "*", s.real))

	return s
}

func (s *Session) send(msg Message) {
	s.out <- msg
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(to SessionState) Event {
	from := s.state
	s.state = to
	if to == Disconnected {
		s.enterDisconnected()
	}
	return StateChangeEvent{From: from, To: to}
}

// Nick returns the client's current nickname.
func (s *Session) Nick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

// NickCf returns the folded form of the current nickname.
func (s *Session) NickCf() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickCf
}

// IsMe reports whether nick folds equal to the local nickname.
func (s *Session) IsMe(nick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isMeLocked(nick)
}

func (s *Session) isMeLocked(nick string) bool {
	return s.nickCf == s.fold(nick)
}

// Fold exposes the active case mapping fold.
func (s *Session) Fold(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fold(name)
}

// IsChannel reports whether name begins with a registered channel-type
// prefix.
func (s *Session) IsChannel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isChannelLocked(name)
}

func (s *Session) isChannelLocked(name string) bool {
	return name != "" && strings.IndexByte(s.isupport.ChanTypes, name[0]) >= 0
}

// ISupport returns a copy of the current ISUPPORT registry.
func (s *Session) ISupport() ISupport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.isupport
}

// HasCapability reports whether capability has been negotiated successfully.
func (s *Session) HasCapability(capability string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.enabledCaps[capability]
	return ok
}

// Monitor returns the presence-subscription list (C7).
func (s *Session) Monitor() *MonitorList {
	return s.monitor
}

// User looks up a known user by nick.
func (s *Session) User(nick string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[s.fold(nick)]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Users returns every known nickname.
func (s *Session) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Nick)
	}
	return out
}

// Channel looks up a joined channel by name. The returned Channel is a
// snapshot copy; its Members map is shared and must not be mutated.
func (s *Session) Channel(name string) (Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[s.fold(name)]
	if !ok {
		return Channel{}, false
	}
	return *c, true
}

// Channels returns the names of every joined channel.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c.Name)
	}
	return out
}

func (s *Session) requireOnline(minState SessionState) error {
	if s.state < minState {
		return ErrNotRegistered
	}
	return nil
}

// --- application command surface (spec 6) ---

// Send transmits a raw, pre-built line, bypassing typed helpers.
func (s *Session) Send(raw string) {
	s.send(NewMessage(raw))
}

// Join requests to join a channel, optionally with a key.
func (s *Session) Join(channel, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	if key == "" {
		s.send(NewMessage("JOIN", channel))
	} else {
		s.send(NewMessage("JOIN", channel, key))
	}
	return nil
}

// Part leaves a channel with an optional reason.
func (s *Session) Part(channel, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	if reason == "" {
		s.send(NewMessage("PART", channel))
	} else {
		s.send(NewMessage("PART", channel, reason))
	}
	return nil
}

// Message sends a PRIVMSG to a target (nick, channel, or STATUSMSG-prefixed
// channel).
func (s *Session) Message(target, text string) error {
	return s.sendTextCommand("PRIVMSG", target, text)
}

// Notice sends a NOTICE to a target.
func (s *Session) Notice(target, text string) error {
	return s.sendTextCommand("NOTICE", target, text)
}

func (s *Session) sendTextCommand(command, target, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	s.send(NewMessage(command, target, text))
	return nil
}

// Mode requests a mode change on a channel or user.
func (s *Session) Mode(target, modes string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	params := append([]string{target, modes}, args...)
	s.send(NewMessage("MODE", params...))
	return nil
}

// Kick removes a user from a channel.
func (s *Session) Kick(channel, nick, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	if reason == "" {
		s.send(NewMessage("KICK", channel, nick))
	} else {
		s.send(NewMessage("KICK", channel, nick, reason))
	}
	return nil
}

// Ban sets a ban mask on a channel (a convenience over Mode +b).
func (s *Session) Ban(channel, mask string) error {
	return s.Mode(channel, "+b", mask)
}

// Topic sets a channel's topic.
func (s *Session) Topic(channel, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	s.send(NewMessage("TOPIC", channel, topic))
	return nil
}

// Invite invites a nick to a channel.
func (s *Session) Invite(nick, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	s.send(NewMessage("INVITE", nick, channel))
	return nil
}

// Away sets an away message (spec 3: AWAY handling).
func (s *Session) Away(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	s.send(NewMessage("AWAY", message))
	return nil
}

// Back clears the away status.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return err
	}
	s.send(NewMessage("AWAY"))
	return nil
}

// --- async request helpers (C6, spec 4.6) ---

// WhoisAsync registers a WHOIS request and sends it, returning a handle to
// await its aggregated result.
func (s *Session) WhoisAsync(nick string) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return nil, err
	}
	p := s.match.Register(kindWhois, s.fold(nick))
	s.send(NewMessage("WHOIS", nick))
	return &PendingRequest{p: p}, nil
}

// WhoAsync registers a WHO request.
func (s *Session) WhoAsync(target string) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return nil, err
	}
	p := s.match.Register(kindWho, s.fold(target))
	s.send(NewMessage("WHO", target))
	return &PendingRequest{p: p}, nil
}

// ListAsync registers a LIST request, with an optional server-side filter.
func (s *Session) ListAsync(filter string) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return nil, err
	}
	p := s.match.Register(kindList, "")
	if filter == "" {
		s.send(NewMessage("LIST"))
	} else {
		s.send(NewMessage("LIST", filter))
	}
	return &PendingRequest{p: p}, nil
}

// NamesAsync registers a NAMES request for one channel.
func (s *Session) NamesAsync(channel string) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return nil, err
	}
	p := s.match.Register(kindNames, s.fold(channel))
	s.send(NewMessage("NAMES", channel))
	return &PendingRequest{p: p}, nil
}

// BanlistAsync registers a MODE +b listing request for one channel.
func (s *Session) BanlistAsync(channel string) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOnline(ReceivingServerInfo); err != nil {
		return nil, err
	}
	p := s.match.Register(kindBanlist, s.fold(channel))
	s.send(NewMessage("MODE", channel, "+b"))
	return &PendingRequest{p: p}, nil
}

// PendingRequest is the application-facing handle for an outstanding async
// request (spec 3: "Pending request").
type PendingRequest struct {
	p *pendingRequest
}

// Wait blocks for the request to resolve, or for cancel to fire, whichever
// comes first. The returned lines are every accumulated reply plus the
// terminating line.
func (r *PendingRequest) Wait(cancel <-chan struct{}) ([]Message, error) {
	return r.p.Wait(cancel)
}

// Cancel aborts the request silently: matching numerics are ignored from
// then on (spec 4.6 rule 4).
func (r *PendingRequest) Cancel() {
	r.p.cancelNow()
}

// --- disconnect / cleanup ---

// Disconnect requests a graceful shutdown. Quit is sent immediately; the
// caller's transport close (or the reader's EOF) drives the eventual
// Disconnected transition via HandleDisconnect.
func (s *Session) Disconnect(quitMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disconnected || s.state == Disconnecting {
		return
	}
	s.setState(Disconnecting)
	s.send(NewMessage("QUIT", quitMessage))
}

// HandleDisconnect is called once by the host when the transport has
// closed (EOF, error, or after a graceful Disconnect), and is the single
// authority for resource release (spec 4.5/5).
func (s *Session) HandleDisconnect() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState(Disconnected)
}

func (s *Session) enterDisconnected() {
	for nick := range s.users {
		delete(s.users, nick)
	}
	for name := range s.channels {
		delete(s.channels, name)
	}
	s.match.DisconnectAll()
}

// --- inbound message handling ---

// HandleMessage feeds one inbound Message through the session and returns
// the Event it produced, or nil if the message had no externally visible
// effect. It also feeds every numeric through the async matcher (C6) ahead
// of state tracking, and must be called from a single goroutine (spec 5).
func (s *Session) HandleMessage(msg Message) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.IsNumeric() && len(msg.Params) > 0 {
		target := msg.Params[0]
		if len(msg.Params) > 1 {
			target = msg.Params[1]
		}
		if msg.Command == RPL_NAMREPLY && len(msg.Params) > 2 {
			target = msg.Params[2] // 353: <me> <symbol> <channel> :<names>
		}
		s.match.Dispatch(msg.Command, target, s.fold, msg)
	}

	if s.state < Registering {
		return s.handleUnregistered(msg)
	}
	return s.handleRegistered(msg)
}

func (s *Session) handleUnregistered(msg Message) Event {
	switch msg.Command {
	case "AUTHENTICATE":
		return s.handleAuthenticate(msg)
	case RPL_LOGGEDIN:
		s.acct = msg.Params[2]
		if len(msg.Params) > 1 {
			s.host = ParsePrefix(msg.Params[1]).Host
		}
		s.saslInFlight = false
		s.send(NewMessage("CAP", "END"))
		return s.setState(Registering)
	case ERR_NICKLOCKED, ERR_SASLFAIL, ERR_SASLTOOLONG, ERR_SASLABORTED, ERR_SASLALREADY:
		s.saslInFlight = false
		if s.saslOnFailure == SASLAbortOnFailure {
			s.send(NewMessage("QUIT", "SASL authentication failed"))
			return s.setState(Disconnecting)
		}
		s.send(NewMessage("CAP", "END"))
		return s.setState(Registering)
	case RPL_SASLMECHS:
		return nil
	case RPL_SASLSUCCESS:
		return nil
	case "CAP":
		return s.handleCapUnregistered(msg)
	case ERR_NICKNAMEINUSE:
		if len(msg.Params) > 1 {
			s.nick = msg.Params[1] + "_"
			s.nickCf = s.fold(s.nick)
			s.send(NewMessage("NICK", s.nick))
		}
		return nil
	default:
		return s.handleRegistered(msg)
	}
}

func (s *Session) handleAuthenticate(msg Message) Event {
	if s.auth == nil || len(msg.Params) == 0 {
		return nil
	}
	res, err := s.auth.Respond(msg.Params[0])
	if err != nil {
		s.send(NewMessage("AUTHENTICATE", "*"))
		return nil
	}
	s.send(NewMessage("AUTHENTICATE", res))
	return nil
}

func (s *Session) handleCapUnregistered(msg Message) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	switch msg.Params[1] {
	case "LS":
		return s.handleCapLS(msg)
	default:
		return s.handleCapCommon(msg)
	}
}

func (s *Session) handleCapLS(msg Message) Event {
	var willContinue bool
	var ls string
	if len(msg.Params) > 3 && msg.Params[2] == "*" {
		willContinue = true
		ls = msg.Params[3]
	} else if len(msg.Params) > 2 {
		ls = msg.Params[2]
	}

	for _, c := range ParseCaps(ls) {
		s.availableCaps[c.Name] = c.Value
	}

	if willContinue {
		return CapEvent{Subcommand: "LS", Caps: ParseCaps(ls)}
	}

	for name := range s.availableCaps {
		if _, ok := SupportedCapabilities[name]; ok {
			s.send(NewMessage("CAP", "REQ", name))
		}
	}

	_, hasSasl := s.availableCaps["sasl"]
	if s.auth == nil || !hasSasl {
		s.send(NewMessage("CAP", "END"))
	} else {
		s.state = SaslAuthenticating
	}
	return CapEvent{Subcommand: "LS", Caps: ParseCaps(ls)}
}

func (s *Session) handleCapCommon(msg Message) Event {
	if len(msg.Params) < 3 {
		return nil
	}
	switch msg.Params[1] {
	case "ACK":
		diff := ParseCaps(msg.Params[2])
		for _, c := range diff {
			if c.Enable {
				s.enabledCaps[c.Name] = struct{}{}
			} else {
				delete(s.enabledCaps, c.Name)
			}
			if s.auth != nil && c.Name == "sasl" && c.Enable {
				s.saslInFlight = true
				s.send(NewMessage("AUTHENTICATE", s.auth.Handshake()))
			}
		}
		return CapEvent{Subcommand: "ACK", Caps: diff}
	case "NAK":
		return CapEvent{Subcommand: "NAK", Caps: ParseCaps(msg.Params[2])}
	case "NEW":
		diff := ParseCaps(msg.Params[2])
		for _, c := range diff {
			s.availableCaps[c.Name] = c.Value
			if _, ok := SupportedCapabilities[c.Name]; ok {
				s.send(NewMessage("CAP", "REQ", c.Name))
			}
		}
		return CapEvent{Subcommand: "NEW", Caps: diff}
	case "DEL":
		diff := ParseCaps(msg.Params[2])
		for _, c := range diff {
			delete(s.availableCaps, c.Name)
			delete(s.enabledCaps, c.Name)
		}
		return CapEvent{Subcommand: "DEL", Caps: diff}
	default:
		return nil
	}
}

// Cap is one entry of a CAP LS/ACK/NAK/NEW/DEL list.
type Cap struct {
	Name   string
	Value  string
	Enable bool
}

// ParseCaps decodes a space-separated capability list, as seen in CAP
// LS/ACK/NEW/DEL parameters.
func ParseCaps(s string) []Cap {
	var out []Cap
	for _, tok := range strings.Fields(s) {
		c := Cap{Enable: true}
		if strings.HasPrefix(tok, "-") {
			c.Enable = false
			tok = tok[1:]
		}
		if i := strings.IndexByte(tok, '='); i >= 0 {
			c.Name = tok[:i]
			c.Value = tok[i+1:]
		} else {
			c.Name = tok
		}
		out = append(out, c)
	}
	return out
}

func (s *Session) handleRegistered(msg Message) Event {
	switch msg.Command {
	case RPL_WELCOME:
		return s.onWelcome(msg)
	case RPL_ISUPPORT:
		return s.onISupport(msg)
	case RPL_ENDOFMOTD, ERR_NOMOTD:
		if s.state < Online {
			return s.setState(Online)
		}
		return nil
	case "CAP":
		return s.handleCapCommon(msg)
	case "PING":
		// Answered by the reader goroutine (ChanInOut) before the message
		// ever reaches here; see dispatch.go.
		return nil
	case "ERROR":
		return s.setState(Disconnecting)
	case "JOIN":
		return s.onJoin(msg)
	case "PART":
		return s.onPart(msg)
	case "KICK":
		return s.onKick(msg)
	case "QUIT":
		return s.onQuit(msg)
	case "NICK":
		return s.onNick(msg)
	case "MODE":
		return s.onMode(msg)
	case "TOPIC":
		return s.onTopic(msg)
	case RPL_TOPIC:
		return s.onRplTopic(msg)
	case RPL_TOPICWHOTIME:
		return s.onRplTopicWhoTime(msg)
	case RPL_NOTOPIC:
		return s.onRplNoTopic(msg)
	case RPL_NAMREPLY:
		return s.onNamReply(msg)
	case RPL_ENDOFNAMES:
		return nil
	case RPL_WHOREPLY:
		return s.onWhoReply(msg)
	case "ACCOUNT":
		return s.onAccount(msg)
	case "CHGHOST":
		return s.onChghost(msg)
	case "AWAY":
		return s.onAway(msg)
	case RPL_AWAY:
		return s.onRplAway(msg)
	case RPL_MONONLINE:
		return s.onMonitorOnline(msg)
	case RPL_MONOFFLINE:
		return s.onMonitorOffline(msg)
	case "PRIVMSG", "NOTICE":
		return s.onPrivmsgOrNotice(msg)
	case "FAIL":
		return standardReplyEvent(SeverityFail, msg)
	case "WARN":
		return standardReplyEvent(SeverityWarn, msg)
	case "NOTE":
		return standardReplyEvent(SeverityNote, msg)
	default:
		if msg.IsNumeric() {
			if _, cat, ok := NumericInfo(msg.Command); ok && cat == CategoryError {
				return ErrorEvent{
					Severity: SeverityFail,
					Code:     msg.Command,
					Message:  strings.Join(msg.Params, " "),
				}
			}
		}
		return nil
	}
}

func standardReplyEvent(sev ErrorSeverity, msg Message) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	return ErrorEvent{Severity: sev, Code: msg.Params[1], Message: strings.Join(msg.Params[2:], " ")}
}

func (s *Session) onWelcome(msg Message) Event {
	if len(msg.Params) > 0 {
		s.nick = msg.Params[0]
		s.nickCf = s.fold(s.nick)
	}
	u := newUser(s.nick)
	u.Ident = s.ident
	u.Host = s.host
	u.IsSelf = true
	s.users[s.nickCf] = u
	if s.host == "" {
		s.send(NewMessage("WHO", s.nick))
	}
	s.setState(ReceivingServerInfo)
	return RegisteredEvent{Nick: s.nick}
}

func (s *Session) onISupport(msg Message) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	tokens := msg.Params[1 : len(msg.Params)-1]
	changed := s.isupport.Update(tokens)
	if changed {
		s.rekeyCaseMapping()
	}
	s.monitor.configure(s.presenceMethod(), s.presenceCap(), s.fold)
	return nil
}

func (s *Session) presenceMethod() PresenceMethod {
	switch {
	case s.isupport.Monitor > 0 || s.isupport.Raw["MONITOR"] != "":
		return PresenceMonitor
	case s.isupport.Watch != 0 || s.isupport.Raw["WATCH"] != "":
		return PresenceWatch
	default:
		return PresenceNone
	}
}

func (s *Session) presenceCap() int {
	if s.isupport.Monitor > 0 {
		return s.isupport.Monitor
	}
	if s.isupport.Watch > 0 {
		return s.isupport.Watch
	}
	return 0
}

// rekeyCaseMapping re-derives every keyed container's keys when CASEMAPPING
// changes mid-session (spec 4.2's rehash requirement).
func (s *Session) rekeyCaseMapping() {
	s.fold = s.isupport.CaseMapper()
	s.nickCf = s.fold(s.nick)

	rekeyed := make(map[string]*User, len(s.users))
	for _, u := range s.users {
		rekeyed[s.fold(u.Nick)] = u
		u.channels = map[string]struct{}{}
	}
	s.users = rekeyed

	rekeyedCh := make(map[string]*Channel, len(s.channels))
	for _, c := range s.channels {
		c.NameCf = s.fold(c.Name)
		members := make(map[string]*ChannelUser, len(c.Members))
		for _, cu := range c.Members {
			members[s.fold(cu.User.Nick)] = cu
			cu.User.channels[c.NameCf] = struct{}{}
		}
		c.Members = members
		rekeyedCh[c.NameCf] = c
	}
	s.channels = rekeyedCh

	names := make(map[string]string, len(s.monitor.names))
	online := make(map[string]bool, len(s.monitor.online))
	for cf, n := range s.monitor.names {
		names[s.fold(n)] = n
		if v, ok := s.monitor.online[cf]; ok {
			online[s.fold(n)] = v
		}
	}
	s.monitor.names, s.monitor.online = names, online
}

// ensureUser returns the User for nick, creating it on first sighting (spec
// 3's User lifecycle).
func (s *Session) ensureUser(prefix *Prefix) *User {
	if prefix == nil {
		return nil
	}
	cf := s.fold(prefix.Name)
	u, ok := s.users[cf]
	if !ok {
		u = newUser(prefix.Name)
		s.users[cf] = u
	}
	if prefix.User != "" {
		u.Ident = prefix.User
	}
	if prefix.Host != "" {
		u.Host = prefix.Host
	}
	return u
}

// cleanupUser destroys a user once it satisfies the disappearance policy
// (spec 3/8) and returns a UserDisappearedEvent for it, or nil. The PART,
// KICK, QUIT and unsubscribe paths discard that event and report only their
// own, so a destroyed user is not announced to the application.
func (s *Session) cleanupUser(u *User) Event {
	if u == nil || !u.ShouldDisappear() {
		return nil
	}
	cf := s.fold(u.Nick)
	delete(s.users, cf)
	return UserDisappearedEvent{Nick: u.Nick}
}

// markMonitored is the MonitorList.onSubscribe callback: it keeps
// User.Monitored true for every subscribed nick, even one that never shares a
// channel with us, so cleanupUser never disappears it (spec 3/8).
func (s *Session) markMonitored(nicks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, nick := range nicks {
		s.ensureUser(&Prefix{Name: nick}).Monitored = true
	}
}

// unmarkMonitored is the MonitorList.onUnsubscribe callback: once a nick is
// no longer subscribed, it again qualifies for disappearance like any other
// channel-less user.
func (s *Session) unmarkMonitored(nicks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, nick := range nicks {
		cf := s.fold(nick)
		u, ok := s.users[cf]
		if !ok {
			continue
		}
		u.Monitored = false
		s.cleanupUser(u)
	}
}

func (s *Session) onJoin(msg Message) Event {
	if msg.Prefix == nil || len(msg.Params) == 0 {
		return nil
	}
	channelName := msg.Params[0]
	channelCf := s.fold(channelName)

	if s.isMeLocked(msg.Prefix.Name) {
		ch := newChannel(channelName, channelCf)
		s.channels[channelCf] = ch
		s.send(NewMessage("MODE", channelName))
		s.send(NewMessage("NAMES", channelName))
		return SelfJoinEvent{Channel: channelName}
	}

	ch, ok := s.channels[channelCf]
	if !ok {
		return nil
	}
	u := s.ensureUser(msg.Prefix)
	if len(msg.Params) > 2 {
		// extended-join: <account> :<realname>
		acct := msg.Params[1]
		if acct != "*" {
			u.Account = acct
		}
		u.RealName = msg.Params[2]
	}
	u.channels[channelCf] = struct{}{}
	ch.Members[s.fold(u.Nick)] = &ChannelUser{User: u}
	return UserJoinEvent{User: msg.Prefix, Channel: ch.Name}
}

func (s *Session) removeMembership(ch *Channel, u *User) {
	delete(ch.Members, s.fold(u.Nick))
	delete(u.channels, ch.NameCf)
}

func (s *Session) onPart(msg Message) Event {
	if msg.Prefix == nil || len(msg.Params) == 0 {
		return nil
	}
	channelCf := s.fold(msg.Params[0])
	reason := ""
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}

	if s.isMeLocked(msg.Prefix.Name) {
		ch, ok := s.channels[channelCf]
		if !ok {
			return nil
		}
		delete(s.channels, channelCf)
		for _, cu := range ch.Members {
			delete(cu.User.channels, channelCf)
			s.cleanupUser(cu.User)
		}
		return SelfPartEvent{Channel: ch.Name, Reason: reason}
	}

	ch, ok := s.channels[channelCf]
	if !ok {
		return nil
	}
	u := s.ensureUser(msg.Prefix)
	s.removeMembership(ch, u)
	ev := UserPartEvent{User: msg.Prefix, Channel: ch.Name, Reason: reason}
	s.cleanupUser(u)
	return ev
}

func (s *Session) onKick(msg Message) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	channelCf := s.fold(msg.Params[0])
	kickedCf := s.fold(msg.Params[1])
	reason := ""
	if len(msg.Params) > 2 {
		reason = msg.Params[2]
	}

	ch, ok := s.channels[channelCf]
	if !ok {
		return nil
	}

	if s.nickCf == kickedCf {
		delete(s.channels, channelCf)
		for _, cu := range ch.Members {
			delete(cu.User.channels, channelCf)
			s.cleanupUser(cu.User)
		}
		return SelfPartEvent{Channel: ch.Name, Reason: reason}
	}

	cu, ok := ch.Members[kickedCf]
	if !ok {
		return nil
	}
	s.removeMembership(ch, cu.User)
	ev := UserKickEvent{By: msg.Prefix, User: cu.User.Nick, Channel: ch.Name, Reason: reason}
	s.cleanupUser(cu.User)
	return ev
}

func (s *Session) onQuit(msg Message) Event {
	if msg.Prefix == nil {
		return nil
	}
	cf := s.fold(msg.Prefix.Name)
	u, ok := s.users[cf]
	if !ok {
		return nil
	}
	reason := ""
	if len(msg.Params) > 0 {
		reason = msg.Params[0]
	}

	var channels []string
	for _, ch := range s.channels {
		if _, member := ch.Members[cf]; member {
			channels = append(channels, ch.Name)
			delete(ch.Members, cf)
		}
	}
	u.channels = map[string]struct{}{}
	if s.monitor.IsOnline(u.Nick) {
		s.monitor.markOffline(u.Nick)
	}
	ev := UserQuitEvent{User: msg.Prefix, Channels: channels, Reason: reason}
	s.cleanupUser(u)
	return ev
}

func (s *Session) onNick(msg Message) Event {
	if msg.Prefix == nil || len(msg.Params) == 0 {
		return nil
	}
	oldCf := s.fold(msg.Prefix.Name)
	newNick := msg.Params[0]
	newCf := s.fold(newNick)

	u, ok := s.users[oldCf]
	if !ok {
		return nil
	}
	delete(s.users, oldCf)
	u.Nick = newNick
	s.users[newCf] = u

	for _, ch := range s.channels {
		if cu, ok := ch.Members[oldCf]; ok {
			delete(ch.Members, oldCf)
			ch.Members[newCf] = cu
		}
	}
	for _, ch := range s.channels {
		if _, ok := ch.Members[newCf]; ok {
			delete(u.channels, oldCf)
			u.channels[ch.NameCf] = struct{}{}
		}
	}

	if oldCf == s.nickCf {
		s.nick = newNick
		s.nickCf = newCf
		return SelfNickEvent{FormerNick: msg.Prefix.Name, NewNick: newNick}
	}
	return UserNickEvent{FormerNick: msg.Prefix.Name, NewNick: newNick}
}

// onMode handles both channel and user MODE lines, per spec 4.4: a sign
// cursor walks the mode string, consulting CHANMODES/PREFIX for how each
// letter consumes parameters.
func (s *Session) onMode(msg Message) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	target := msg.Params[0]
	if !s.isChannelLocked(target) {
		return nil // user mode changes (umodes) carry no channel state here
	}
	ch, ok := s.channels[s.fold(target)]
	if !ok {
		return nil
	}

	modeStr := msg.Params[1]
	args := msg.Params[2:]
	argIdx := 0
	nextArg := func() (string, bool) {
		if argIdx >= len(args) {
			return "", false
		}
		a := args[argIdx]
		argIdx++
		return a, true
	}

	sign := byte('+')
	for i := 0; i < len(modeStr); i++ {
		c := modeStr[i]
		if c == '+' || c == '-' {
			sign = c
			continue
		}
		kind := s.isupport.ChanModes.classify(s.isupport.Prefix, c)
		switch kind {
		case ModeKindStatus:
			arg, ok := nextArg()
			if !ok {
				continue
			}
			cu, ok := ch.Members[s.fold(arg)]
			if !ok {
				continue
			}
			if sign == '+' {
				cu.addStatus(c)
			} else {
				cu.removeStatus(c)
			}
		case ModeKindList:
			arg, ok := nextArg()
			if !ok {
				continue
			}
			if sign == '+' {
				ch.Lists[c] = append(ch.Lists[c], arg)
			} else {
				ch.Lists[c] = removeMask(ch.Lists[c], arg)
			}
		case ModeKindParam:
			arg, _ := nextArg()
			if sign == '+' {
				ch.Modes[c] = arg
			} else {
				delete(ch.Modes, c)
			}
		case ModeKindSetParam:
			if sign == '+' {
				arg, _ := nextArg()
				ch.Modes[c] = arg
			} else {
				delete(ch.Modes, c)
			}
		case ModeKindFlag:
			if sign == '+' {
				ch.Flags[c] = struct{}{}
			} else {
				delete(ch.Flags, c)
			}
		}
	}

	return ModeChangeEvent{By: msg.Prefix, Channel: ch.Name, Modes: modeStr, Args: args}
}

func removeMask(list []string, mask string) []string {
	for i, m := range list {
		if m == mask {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (s *Session) onTopic(msg Message) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	ch, ok := s.channels[s.fold(msg.Params[0])]
	if !ok {
		return nil
	}
	ch.Topic = TopicInfo{Text: msg.Params[1], Who: msg.Prefix}
	return TopicChangeEvent{User: msg.Prefix, Channel: ch.Name, Topic: ch.Topic.Text}
}

func (s *Session) onRplTopic(msg Message) Event {
	if len(msg.Params) < 3 {
		return nil
	}
	ch, ok := s.channels[s.fold(msg.Params[1])]
	if !ok {
		return nil
	}
	ch.Topic.Text = msg.Params[2]
	return nil
}

func (s *Session) onRplTopicWhoTime(msg Message) Event {
	if len(msg.Params) < 4 {
		return nil
	}
	ch, ok := s.channels[s.fold(msg.Params[1])]
	if !ok {
		return nil
	}
	ch.Topic.Who = ParsePrefix(msg.Params[2])
	if secs, err := strconv.ParseInt(msg.Params[3], 10, 64); err == nil {
		ch.Topic.At = secsToTime(secs)
	}
	return nil
}

func (s *Session) onRplNoTopic(msg Message) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	ch, ok := s.channels[s.fold(msg.Params[1])]
	if !ok {
		return nil
	}
	ch.Topic = TopicInfo{}
	return nil
}

// onNamReply parses 353, tolerating zero or more leading status symbols per
// member when multi-prefix is active, else at most one (spec 4.4).
func (s *Session) onNamReply(msg Message) Event {
	if len(msg.Params) < 4 {
		return nil
	}
	ch, ok := s.channels[s.fold(msg.Params[2])]
	if !ok {
		return nil
	}
	multi := s.hasCapabilityLocked("multi-prefix") || s.isupport.MultiPrefix

	for _, token := range strings.Fields(msg.Params[3]) {
		statuses, nickPart := splitNamePrefixes(token, s.isupport.Prefix.Symbols, multi)
		prefix := ParsePrefix(nickPart)
		u := s.ensureUser(prefix)
		cu, ok := ch.Members[s.fold(u.Nick)]
		if !ok {
			cu = &ChannelUser{User: u}
			ch.Members[s.fold(u.Nick)] = cu
		}
		u.channels[ch.NameCf] = struct{}{}
		for _, sym := range statuses {
			if mode, ok := s.isupport.Prefix.ModeForSymbol(sym); ok {
				cu.addStatus(mode)
			}
		}
	}
	return nil
}

// hasCapabilityLocked is HasCapability without re-acquiring the mutex, for
// internal callers already holding it.
func (s *Session) hasCapabilityLocked(capability string) bool {
	_, ok := s.enabledCaps[capability]
	return ok
}

func splitNamePrefixes(token, symbols string, multi bool) (statuses []byte, rest string) {
	i := 0
	for i < len(token) && strings.IndexByte(symbols, token[i]) >= 0 {
		statuses = append(statuses, token[i])
		i++
		if !multi {
			break
		}
	}
	return statuses, token[i:]
}

func (s *Session) onWhoReply(msg Message) Event {
	if len(msg.Params) < 6 {
		return nil
	}
	nick := msg.Params[5]
	cf := s.fold(nick)
	u, ok := s.users[cf]
	if !ok {
		u = newUser(nick)
		s.users[cf] = u
	}
	u.Ident = msg.Params[2]
	u.Host = msg.Params[3]
	if len(msg.Params) > 6 {
		flags := msg.Params[6]
		u.Away = strings.HasPrefix(flags, "G")
		u.IsOper = strings.Contains(flags, "*")
	}
	if len(msg.Params) > 7 {
		fields := strings.SplitN(msg.Params[7], " ", 2)
		if len(fields) == 2 {
			u.RealName = fields[1]
		}
	}
	if s.nickCf == cf && s.host == "" {
		s.host = u.Host
	}
	return nil
}

func (s *Session) onAccount(msg Message) Event {
	if msg.Prefix == nil || len(msg.Params) == 0 {
		return nil
	}
	u := s.ensureUser(msg.Prefix)
	acct := msg.Params[0]
	if acct == "*" || acct == "" {
		u.Account = ""
	} else {
		u.Account = acct
	}
	return nil
}

func (s *Session) onChghost(msg Message) Event {
	if msg.Prefix == nil || len(msg.Params) < 2 {
		return nil
	}
	u := s.ensureUser(msg.Prefix)
	u.Ident = msg.Params[0]
	u.Host = msg.Params[1]
	return nil
}

func (s *Session) onAway(msg Message) Event {
	if msg.Prefix == nil {
		return nil
	}
	u := s.ensureUser(msg.Prefix)
	u.Away = len(msg.Params) > 0 && msg.Params[0] != ""
	return nil
}

func (s *Session) onRplAway(msg Message) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	cf := s.fold(msg.Params[1]) // 301: <me> <nick> :<message>
	if u, ok := s.users[cf]; ok {
		u.Away = true
	}
	return nil
}

func (s *Session) onMonitorOnline(msg Message) Event {
	return s.onMonitorStatus(msg, true)
}

func (s *Session) onMonitorOffline(msg Message) Event {
	return s.onMonitorStatus(msg, false)
}

func (s *Session) onMonitorStatus(msg Message, online bool) Event {
	if len(msg.Params) < 2 {
		return nil
	}
	var events []Event
	for _, entry := range strings.Split(msg.Params[1], ",") {
		prefix := ParsePrefix(entry)
		if prefix.Name == "" {
			continue
		}
		if online {
			u := s.ensureUser(prefix)
			u.Monitored = true
			s.monitor.markOnline(prefix.Name)
			events = append(events, UserAppearedEvent{Nick: prefix.Name})
		} else {
			s.monitor.markOffline(prefix.Name)
			// 730/731 only ever names a subscribed nick, so it stays
			// tracked (Monitored) even with zero shared channels; cleanupUser
			// is a no-op here and only matters once unmarkMonitored clears it.
			u := s.ensureUser(&Prefix{Name: prefix.Name})
			u.Monitored = true
			s.cleanupUser(u)
			events = append(events, UserDisappearedEvent{Nick: prefix.Name})
		}
	}
	if len(events) == 1 {
		return events[0]
	}
	if len(events) > 1 {
		return events // batched: caller type-switches on []Event too
	}
	return nil
}

func (s *Session) onPrivmsgOrNotice(msg Message) Event {
	if msg.Prefix == nil || len(msg.Params) < 2 {
		return nil
	}
	content := msg.Params[1]
	if ctcp, ok := parseCTCP(content); ok {
		return CTCPEvent{
			User:    msg.Prefix,
			Target:  msg.Params[0],
			Reply:   msg.Command == "NOTICE",
			Verb:    ctcp.verb,
			Payload: ctcp.payload,
		}
	}

	ev := MessageEvent{
		User:    msg.Prefix,
		Target:  msg.Params[0],
		Command: msg.Command,
		Content: content,
	}
	if ch, ok := s.channels[s.fold(msg.Params[0])]; ok {
		ev.Target = ch.Name
		ev.TargetIsChannel = true
	}
	return ev
}

const ctcpDelim = '\x01'

type ctcpMessage struct {
	verb    string
	payload string
}

// parseCTCP extracts the verb/argument split of a \x01-framed payload (spec
// 1/9: CTCP framing only, not payload semantics).
func parseCTCP(content string) (ctcpMessage, bool) {
	if len(content) == 0 || content[0] != ctcpDelim {
		return ctcpMessage{}, false
	}
	inner := content[1:]
	inner = strings.TrimSuffix(inner, string(ctcpDelim))
	verb, payload := word(inner)
	return ctcpMessage{verb: strings.ToUpper(verb), payload: payload}, true
}
