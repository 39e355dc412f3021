package collation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mixed = []string{
	"Яблоко",
	"banana",
	"Арбуз",
	"apple",
	"42 Stories",
	"«Война и мир»",
	"Cherry",
	"ёлка",
	"日本",
}

func sortNames(c *Collator, names []string) {
	Sort(c, names, func(s string) string { return s }, nil)
}

func TestCompare_LatinFirst(t *testing.T) {
	t.Parallel()

	names := append([]string(nil), mixed...)
	sortNames(New(LatinFirst), names)

	assert.Equal(t, []string{
		"42 Stories",
		"apple",
		"banana",
		"Cherry",
		"Арбуз",
		"«Война и мир»",
		"ёлка",
		"Яблоко",
		"日本",
	}, names)
}

func TestCompare_CyrillicFirst(t *testing.T) {
	t.Parallel()

	names := append([]string(nil), mixed...)
	sortNames(New(CyrillicFirst), names)

	assert.Equal(t, []string{
		"Арбуз",
		"«Война и мир»",
		"ёлка",
		"Яблоко",
		"42 Stories",
		"apple",
		"banana",
		"Cherry",
		"日本",
	}, names)
}

func TestCompare_GroupsNeverInterleave(t *testing.T) {
	t.Parallel()

	for _, order := range []Order{LatinFirst, CyrillicFirst} {
		c := New(order)
		names := append([]string(nil), mixed...)
		sortNames(c, names)

		preferred := ScriptLatin
		if order == CyrillicFirst {
			preferred = ScriptCyrillic
		}
		seenOther := false
		for _, n := range names {
			if ScriptOf(n) != preferred {
				seenOther = true
				continue
			}
			assert.False(t, seenOther, "%s: %q sorted after a non-preferred entry", order, n)
		}
	}
}

func TestCompare_CaseTieBreak(t *testing.T) {
	t.Parallel()

	c := New(LatinFirst)
	assert.NotEqual(t, 0, c.Compare("apple", "Apple"))
	assert.Equal(t, -c.Compare("apple", "Apple"), c.Compare("Apple", "apple"))
	assert.Equal(t, 0, c.Compare("same", "same"))
}

func TestSort_TieBreak(t *testing.T) {
	t.Parallel()

	type item struct {
		title string
		id    string
	}
	items := []item{{"Same", "b"}, {"Same", "a"}, {"Other", "c"}}
	Sort(New(LatinFirst), items, func(i item) string { return i.title }, func(a, b item) int {
		if a.id < b.id {
			return -1
		}
		if a.id > b.id {
			return 1
		}
		return 0
	})
	assert.Equal(t, []item{{"Other", "c"}, {"Same", "a"}, {"Same", "b"}}, items)
}

func TestParseOrder(t *testing.T) {
	t.Parallel()

	o, err := ParseOrder("Cyrillic")
	require.NoError(t, err)
	assert.Equal(t, CyrillicFirst, o)

	o, err = ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, LatinFirst, o)

	_, err = ParseOrder("greek")
	assert.Error(t, err)
}

func TestPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"  apple", 1, "A"},
		{"«война»", 1, "В"},
		{"«война»", 3, "ВОЙ"},
		{"42", 1, "4"},
		{"ab", 5, "AB"},
		{"...", 1, ""},
		{"anything", 0, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Prefix(tc.in, tc.n), "%q/%d", tc.in, tc.n)
	}
}
