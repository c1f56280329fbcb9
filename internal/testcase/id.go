// Package testcase derives test case identifiers such as "ST10001" from a
// scenario title.
package testcase

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// DefaultInitials is used when a title yields no initials.
const DefaultInitials = "ST"

// FirstSequence is the counter assigned to the first case of a prefix.
const FirstSequence = 10001

// Initials returns the uppercase first letters of the whitespace separated
// words of title. Words starting with a non-letter contribute nothing.
func Initials(title string) string {
	var sb strings.Builder
	for _, word := range strings.Fields(title) {
		r := []rune(word)[0]
		if unicode.IsLetter(r) {
			sb.WriteRune(unicode.ToUpper(r))
		}
	}
	if sb.Len() == 0 {
		return DefaultInitials
	}
	return sb.String()
}

// Next returns the id following the highest existing id with the same
// initials. Ids with other prefixes or non-numeric suffixes are ignored.
func Next(initials string, existing []string) string {
	highest := 0
	for _, id := range existing {
		n, ok := Sequence(initials, id)
		if ok && n > highest {
			highest = n
		}
	}
	next := highest + 1
	if next < FirstSequence {
		next = FirstSequence
	}
	return Format(initials, next)
}

// Sequence extracts the numeric counter of id when it carries initials.
func Sequence(initials, id string) (int, bool) {
	suffix, found := strings.CutPrefix(id, initials)
	if !found || suffix == "" {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Format renders initials and counter as an id, zero padded to five digits.
func Format(initials string, n int) string {
	return fmt.Sprintf("%s%05d", initials, n)
}
