package irc

// CaseMapping folds a string per one of the three mappings a server can
// advertise via ISUPPORT CASEMAPPING. Fold is idempotent: Fold(Fold(s)) ==
// Fold(s), and keyed containers must derive equality solely from it (spec
// 4.2, 8).
type CaseMapping func(string) string

// CasemapASCII folds 'A'-'Z' to 'a'-'z' and nothing else.
func CasemapASCII(s string) string {
	return foldWith(s, 'A', 'Z', 0)
}

// CasemapRFC1459 folds ASCII plus "{}|^" to "[]\~".
func CasemapRFC1459(s string) string {
	return foldRunes(s, rfc1459Table)
}

// CasemapStrictRFC1459 folds ASCII plus "{}|" to "[]\", leaving '^'/'~'
// alone (the "strict" variant omits the tilde pair some servers don't fold).
func CasemapStrictRFC1459(s string) string {
	return foldRunes(s, strictRFC1459Table)
}

func foldWith(s string, lo, hi byte, extra int) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= lo && c <= hi {
			b[i] = c + 32
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}

var rfc1459Table = map[byte]byte{
	'{': '[',
	'}': ']',
	'|': '\\',
	'^': '~',
}

var strictRFC1459Table = map[byte]byte{
	'{': '[',
	'}': ']',
	'|': '\\',
}

func foldRunes(s string, extra map[byte]byte) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
			changed = true
			continue
		}
		if r, ok := extra[c]; ok {
			b[i] = r
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}

// CaseMappingByName resolves an ISUPPORT CASEMAPPING token to a folder,
// defaulting to rfc1459 per the common server convention when the value is
// unrecognized (the teacher's updateFeatures defaults the same way).
func CaseMappingByName(name string) CaseMapping {
	switch name {
	case "ascii":
		return CasemapASCII
	case "strict-rfc1459":
		return CasemapStrictRFC1459
	default:
		return CasemapRFC1459
	}
}
