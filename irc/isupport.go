package irc

import (
	"strconv"
	"strings"
)

// PrefixTable is the decoded form of ISUPPORT PREFIX=(modes)symbols: index i
// of Modes ranks status i of Symbols, position 0 being the highest.
type PrefixTable struct {
	Modes   string
	Symbols string
}

// RankOf returns the rank (0 = highest) of a status symbol, and whether it
// is known. An unknown symbol reports len(Symbols), below every known rank.
// NAMES parsing (splitNamePrefixes) strips only known symbols; an unknown
// prefix character stays part of the nickname.
func (p PrefixTable) RankOf(symbol byte) (int, bool) {
	i := strings.IndexByte(p.Symbols, symbol)
	if i < 0 {
		return len(p.Symbols), false
	}
	return i, true
}

// ModeForSymbol returns the mode letter ('o', 'v', ...) for a status symbol.
func (p PrefixTable) ModeForSymbol(symbol byte) (byte, bool) {
	i := strings.IndexByte(p.Symbols, symbol)
	if i < 0 || i >= len(p.Modes) {
		return 0, false
	}
	return p.Modes[i], true
}

// SymbolForMode is the inverse of ModeForSymbol.
func (p PrefixTable) SymbolForMode(mode byte) (byte, bool) {
	i := strings.IndexByte(p.Modes, mode)
	if i < 0 || i >= len(p.Symbols) {
		return 0, false
	}
	return p.Symbols[i], true
}

// ChanModes is the CHANMODES=a,b,c,d decode: four groups classifying every
// channel mode letter by how it consumes parameters (spec 3/4.3).
type ChanModes struct {
	TypeA string // list modes (bans, ...): always take a parameter, accumulate.
	TypeB string // parameterized modes: always take a parameter.
	TypeC string // modes that take a parameter only when being set.
	TypeD string // flag modes: never take a parameter.
}

// ModeKind classifies a channel mode letter. classify also consults the
// PREFIX table, since status modes (o, v, ...) are parameterized-on-nickname
// regardless of whether the server lists them in CHANMODES.
type ModeKind int

const (
	ModeKindUnknown  ModeKind = iota
	ModeKindStatus            // status/PREFIX mode: parameter is a nickname
	ModeKindList              // type A: parameter is a mask, accumulate
	ModeKindParam             // type B: always takes a parameter
	ModeKindSetParam          // type C: takes a parameter only when set
	ModeKindFlag              // type D: never takes a parameter
)

func (cm ChanModes) classify(prefix PrefixTable, mode byte) ModeKind {
	if strings.IndexByte(prefix.Modes, mode) >= 0 {
		return ModeKindStatus
	}
	switch {
	case strings.IndexByte(cm.TypeA, mode) >= 0:
		return ModeKindList
	case strings.IndexByte(cm.TypeB, mode) >= 0:
		return ModeKindParam
	case strings.IndexByte(cm.TypeC, mode) >= 0:
		return ModeKindSetParam
	case strings.IndexByte(cm.TypeD, mode) >= 0:
		return ModeKindFlag
	default:
		return ModeKindUnknown
	}
}

// ISupport is the typed record decoded from every 005 line received so far,
// plus verbatim storage of tokens this library doesn't otherwise understand.
type ISupport struct {
	Prefix      PrefixTable
	ChanModes   ChanModes
	ChanTypes   string
	CaseMapping string
	Network     string
	StatusMsg   string
	Monitor     int // <=0 means absent
	Watch       int // 0 means absent, -1 present without a declared cap
	MultiPrefix bool

	Raw map[string]string // every token seen, verbatim, keyed upper-case

	defaults map[string]string // built-in defaults restored on "-KEY"
}

// NewISupport returns a registry carrying RFC 1459's baseline defaults,
// matching what a server that sends no 005 at all would still imply.
func NewISupport() *ISupport {
	is := &ISupport{
		Prefix:      PrefixTable{Modes: "ov", Symbols: "@+"},
		ChanModes:   ChanModes{TypeA: "b", TypeB: "k", TypeC: "l", TypeD: "imnpst"},
		ChanTypes:   "#&",
		CaseMapping: "rfc1459",
		Raw:         map[string]string{},
	}
	is.defaults = map[string]string{
		"PREFIX":      "(ov)@+",
		"CHANMODES":   "b,k,l,imnpst",
		"CHANTYPES":   "#&",
		"CASEMAPPING": "rfc1459",
	}
	return is
}

func hexUnescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if n, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Update decodes the parameters of one 005 line (msg.Params[1:len-1], the
// trailing ":are supported" already stripped by the caller) and applies
// them, reporting whether CASEMAPPING changed value so the session can
// re-key.
func (is *ISupport) Update(tokens []string) (casemappingChanged bool) {
	for _, tok := range tokens {
		if tok == "" {
			continue
		}

		remove := false
		if tok[0] == '-' {
			remove = true
			tok = tok[1:]
		}

		key := tok
		value := ""
		hasValue := false
		if i := strings.IndexByte(tok, '='); i >= 0 {
			key = tok[:i]
			value = hexUnescape(tok[i+1:])
			hasValue = true
		}
		key = strings.ToUpper(key)

		if remove {
			def, ok := is.defaults[key]
			if !ok {
				delete(is.Raw, key)
				continue
			}
			// Re-apply the built-in default so the typed field reverts too.
			value = def
			hasValue = true
		}

		is.Raw[key] = value

		switch key {
		case "PREFIX":
			is.applyPrefix(value)
		case "CHANMODES":
			is.applyChanModes(value)
		case "CHANTYPES":
			is.ChanTypes = value
		case "CASEMAPPING":
			if is.CaseMapping != value {
				casemappingChanged = true
			}
			is.CaseMapping = value
		case "NETWORK":
			is.Network = value
		case "STATUSMSG":
			is.StatusMsg = value
		case "MONITOR":
			if n, err := strconv.Atoi(value); err == nil {
				is.Monitor = n
			}
		case "WATCH":
			if hasValue {
				if n, err := strconv.Atoi(value); err == nil {
					is.Watch = n
				}
			} else {
				is.Watch = -1 // present, no declared cap
			}
		case "NAMESX", "UHNAMES":
			is.MultiPrefix = true
		}
	}
	return casemappingChanged
}

func (is *ISupport) applyPrefix(value string) {
	if value == "" {
		is.Prefix = PrefixTable{}
		return
	}
	if value[0] != '(' {
		return
	}
	close := strings.IndexByte(value, ')')
	if close < 0 {
		return
	}
	is.Prefix = PrefixTable{
		Modes:   value[1:close],
		Symbols: value[close+1:],
	}
}

func (is *ISupport) applyChanModes(value string) {
	parts := strings.SplitN(value, ",", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	is.ChanModes = ChanModes{TypeA: parts[0], TypeB: parts[1], TypeC: parts[2], TypeD: parts[3]}
}

// CaseMapper returns the active fold function.
func (is *ISupport) CaseMapper() CaseMapping {
	return CaseMappingByName(is.CaseMapping)
}
