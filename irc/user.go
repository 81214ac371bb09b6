package irc

import "time"

// User is a known IRC user: created on first sighting, mutated by NICK,
// AWAY, ACCOUNT, CHGHOST, extended-join, WHO replies and RPL_AWAY, destroyed
// per the disappearance policy in spec 3/8. User MODE changes and WHOIS
// replies other than RPL_AWAY do not update it.
type User struct {
	Nick     string
	Ident    string
	Host     string
	RealName string
	Account  string // "" means logged out / unknown

	Away      bool
	IsOper    bool
	IsSelf    bool
	Monitored bool // tracked by MONITOR/WATCH even without a shared channel

	// channels this user shares with the local user, keyed by folded name.
	channels map[string]struct{}
}

func newUser(nick string) *User {
	return &User{Nick: nick, channels: map[string]struct{}{}}
}

// Channels returns the folded names of every channel this user shares with
// the local client.
func (u *User) Channels() []string {
	out := make([]string, 0, len(u.channels))
	for c := range u.channels {
		out = append(out, c)
	}
	return out
}

// ShouldDisappear implements the invariant from spec 3/8: a user with no
// shared channel, not monitored, and not the local user no longer belongs
// in the table.
func (u *User) ShouldDisappear() bool {
	return len(u.channels) == 0 && !u.Monitored && !u.IsSelf
}

// TopicInfo is a channel's topic, who set it last, and when.
type TopicInfo struct {
	Text string
	Who  *Prefix
	At   time.Time
}

// ChannelUser is a User's membership record within one channel: the status
// modes it holds there, in the order they were granted. HighestStatusRank
// derives the best rank (0 = highest) from the active PrefixTable.
type ChannelUser struct {
	User   *User
	Status []byte // status mode letters this member holds, e.g. {'o'}
}

// HasStatus reports whether the member holds the given status mode letter.
func (cu *ChannelUser) HasStatus(mode byte) bool {
	for _, m := range cu.Status {
		if m == mode {
			return true
		}
	}
	return false
}

func (cu *ChannelUser) addStatus(mode byte) {
	if cu.HasStatus(mode) {
		return
	}
	cu.Status = append(cu.Status, mode)
}

func (cu *ChannelUser) removeStatus(mode byte) {
	for i, m := range cu.Status {
		if m == mode {
			cu.Status = append(cu.Status[:i], cu.Status[i+1:]...)
			return
		}
	}
}

// HighestStatusRank returns the minimum (best) rank among this member's
// statuses according to prefix, or len(prefix.Symbols) if it holds none.
func (cu *ChannelUser) HighestStatusRank(prefix PrefixTable) int {
	best := len(prefix.Symbols)
	for _, mode := range cu.Status {
		if sym, ok := prefix.SymbolForMode(mode); ok {
			if rank, ok := prefix.RankOf(sym); ok && rank < best {
				best = rank
			}
		}
	}
	return best
}

// Channel is a joined channel: created on local JOIN, destroyed on local
// PART/KICK/disconnect.
type Channel struct {
	Name      string
	NameCf    string
	Topic     TopicInfo
	CreatedAt time.Time
	Modes     map[byte]string   // type B/C modes currently set, with their params
	Flags     map[byte]struct{} // type D flag modes currently set
	Lists     map[byte][]string // type A list modes, accumulated masks (bans, ...)

	// Members, keyed by folded nick.
	Members map[string]*ChannelUser
}

func newChannel(name, nameCf string) *Channel {
	return &Channel{
		Name:    name,
		NameCf:  nameCf,
		Modes:   map[byte]string{},
		Flags:   map[byte]struct{}{},
		Lists:   map[byte][]string{},
		Members: map[string]*ChannelUser{},
	}
}
