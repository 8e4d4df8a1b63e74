package digs

import "strings"

// dirToken is the single separator used to flatten a logical file name's
// path components into an inbox staging name. It is chosen so it can never
// occur inside a legal path component (enforced by ValidateLFN), making
// EncodeDIR/DecodeDIR a lossless round trip.
const dirToken = "-DIR-"

// ValidateLFN reports whether lfn is legal: non-empty, slash-separated,
// with no component containing the DIR-encoding token. Put rejects any LFN
// that fails this check (spec.md §3, §6).
func ValidateLFN(lfn string) error {
	if lfn == "" {
		return NewError(Invariant, lfn, errEmptyLFN)
	}
	if strings.Contains(lfn, dirToken) {
		return NewError(Invariant, lfn, errLFNContainsDirToken)
	}
	if strings.HasPrefix(lfn, "/") || strings.HasSuffix(lfn, "/") || strings.Contains(lfn, "//") {
		return NewError(Invariant, lfn, errLFNBadSlashes)
	}
	return nil
}

// EncodeDIR translates a logical file name's path components into the flat
// staged name used inside an SE's inbox: "a/b/c.txt" -> "a-DIR-b-DIR-c.txt".
func EncodeDIR(lfn string) string {
	return strings.ReplaceAll(lfn, "/", dirToken)
}

// DecodeDIR reverses EncodeDIR. Because dirToken cannot occur inside a
// legal path component, this is a lossless inverse: DecodeDIR(EncodeDIR(p))
// == p for every legal LFN p, and EncodeDIR(DecodeDIR(x)) == x for every
// valid staged name x.
func DecodeDIR(staged string) string {
	return strings.ReplaceAll(staged, dirToken, "/")
}

// DirName returns the parent directory of an LFN ("" for a top-level file),
// used by forEachFile's prefix matching.
func DirName(lfn string) string {
	idx := strings.LastIndexByte(lfn, '/')
	if idx < 0 {
		return ""
	}
	return lfn[:idx]
}

// NullAttribute is the sentinel spec.md documents for "(null)": returned for
// both a missing attribute and one that is present but empty, by design
// indistinguishable. New callers should prefer SetAttribute's rejection of
// this literal value (see catalog package) over relying on the ambiguity.
const NullAttribute = "(null)"

// IsNullAttribute reports whether v is the unset-attribute sentinel.
func IsNullAttribute(v string) bool {
	return v == NullAttribute
}
