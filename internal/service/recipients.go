package service

import (
	"regexp"
	"strings"
)

var (
	recipientSeparators = regexp.MustCompile(`[\s,;]+`)
	// local-part, @, domain with at least one dot. Permissive on purpose.
	recipientShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// RecipientList is the outcome of parsing a free-form recipient block.
type RecipientList struct {
	Valid   []string
	Invalid []string
	// Empty is true when the input held no token at all, which callers treat
	// differently from input that was present but fully invalid.
	Empty bool
}

// ParseRecipients splits raw on whitespace, commas and semicolons and sorts
// each token into valid addresses or invalid tokens. Valid addresses are
// lower-cased and deduplicated in first-seen order. Invalid tokens are kept
// exactly as given, repeats included, so each one can be reported back.
func ParseRecipients(raw string) RecipientList {
	tokens := recipientSeparators.Split(strings.TrimSpace(raw), -1)
	list := RecipientList{Valid: []string{}, Invalid: []string{}}

	seenValid := make(map[string]struct{})
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if recipientShape.MatchString(token) {
			addr := strings.ToLower(token)
			if _, dup := seenValid[addr]; dup {
				continue
			}
			seenValid[addr] = struct{}{}
			list.Valid = append(list.Valid, addr)
			continue
		}
		list.Invalid = append(list.Invalid, token)
	}

	list.Empty = len(list.Valid) == 0 && len(list.Invalid) == 0
	return list
}
