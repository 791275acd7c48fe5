package xrv

import (
	"fmt"
	"strings"
)

// ConfirmSubjectPrefix prefixes the advisory subject on which certified
// drivers publish delivery confirmations, followed by the original subject.
const ConfirmSubjectPrefix = "_RV.INFO.RVCM.DELIVERY.CONFIRM."

// ConfirmSubject returns the advisory subject for confirmations of subject.
func ConfirmSubject(subject string) string { return ConfirmSubjectPrefix + subject }

// ValidateSubject checks the dot-separated token rules: no empty tokens,
// '*' and '>' only as whole tokens, '>' only last.
func ValidateSubject(subject string) error {
	if subject == "" {
		return argError("subject", "empty")
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return fmt.Errorf("%w: subject %q has an empty token", ErrInvalidArgument, subject)
		case tok == ">":
			if i != len(tokens)-1 {
				return fmt.Errorf("%w: subject %q uses '>' before the last token", ErrInvalidArgument, subject)
			}
		case strings.ContainsAny(tok, "*>") && tok != "*":
			return fmt.Errorf("%w: subject %q mixes wildcards into token %q", ErrInvalidArgument, subject, tok)
		}
	}
	return nil
}

// IsWildcard reports whether subject contains a wildcard token.
func IsWildcard(subject string) bool {
	for _, tok := range strings.Split(subject, ".") {
		if tok == "*" || tok == ">" {
			return true
		}
	}
	return false
}

// MatchSubject reports whether a concrete subject matches pattern.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
