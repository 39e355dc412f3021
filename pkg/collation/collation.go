// Package collation orders catalog listings. Entries are grouped by the
// script of their first letter: the preferred script first, the other of
// Latin and Cyrillic second, anything else last. Inside a group strings are
// compared with the locale collator, ignoring case.
package collation

import (
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Order selects which script sorts first.
type Order string

const (
	LatinFirst    Order = "latin"
	CyrillicFirst Order = "cyrillic"
)

// Script is the coarse script class of a string's first letter.
type Script int

const (
	ScriptLatin Script = iota
	ScriptCyrillic
	ScriptOther
)

// ParseOrder validates a configured order name.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case LatinFirst, "":
		return LatinFirst, nil
	case CyrillicFirst:
		return CyrillicFirst, nil
	default:
		return "", errors.Errorf("unknown sort order %q", s)
	}
}

// Collator compares strings for one Order. It is safe for concurrent use.
type Collator struct {
	order Order
	pool  sync.Pool
}

// New builds a collator for order.
func New(order Order) *Collator {
	tag := language.English
	if order == CyrillicFirst {
		tag = language.Russian
	}
	c := &Collator{order: order}
	c.pool.New = func() any {
		return collate.New(tag, collate.IgnoreCase)
	}
	return c
}

// Order returns the configured order.
func (c *Collator) Order() Order {
	return c.order
}

// ScriptOf classifies the first letter of s. Leading spaces, digits and
// punctuation are skipped; a string with no letters is ScriptOther.
func ScriptOf(s string) Script {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		switch {
		case unicode.Is(unicode.Latin, r):
			return ScriptLatin
		case unicode.Is(unicode.Cyrillic, r):
			return ScriptCyrillic
		default:
			return ScriptOther
		}
	}
	return ScriptOther
}

func (c *Collator) rank(s string) int {
	switch ScriptOf(s) {
	case ScriptLatin:
		if c.order == CyrillicFirst {
			return 1
		}
		return 0
	case ScriptCyrillic:
		if c.order == CyrillicFirst {
			return 0
		}
		return 1
	default:
		return 2
	}
}

// Compare orders a and b by script group, then locale collation, then raw
// bytes. Distinct strings never compare equal.
func (c *Collator) Compare(a, b string) int {
	if ra, rb := c.rank(a), c.rank(b); ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	col := c.pool.Get().(*collate.Collator)
	cmp := col.CompareString(trimLeading(a), trimLeading(b))
	c.pool.Put(col)
	if cmp != 0 {
		return cmp
	}
	return strings.Compare(a, b)
}

// trimLeading drops quotes and other punctuation in front of the first letter
// or digit, so «Title» collates as Title.
func trimLeading(s string) string {
	return strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Sort orders items by key, using tie to break exact key ties so the result
// does not depend on the input order.
func Sort[T any](c *Collator, items []T, key func(T) string, tie func(a, b T) int) {
	slices.SortFunc(items, func(a, b T) int {
		if cmp := c.Compare(key(a), key(b)); cmp != 0 {
			return cmp
		}
		if tie != nil {
			return tie(a, b)
		}
		return 0
	})
}

// Prefix returns the first n runes of s, upper-cased, starting at its first
// letter or digit. Alphabetical index groups are keyed by it. The result is
// shorter than n runes when s is.
func Prefix(s string, n int) string {
	s = strings.ToUpper(trimLeading(s))
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
