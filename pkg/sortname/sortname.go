// Package sortname turns free-form creator names into the "Last First Middle"
// display form the catalog uses for authors, so that EPUB creators line up
// with FB2 authors (which are stored surname first).
package sortname

import (
	"strings"
)

// GenerationalSuffixes are kept after the given names as they distinguish
// different people.
var GenerationalSuffixes = []string{
	"Jr.", "Jr", "Sr.", "Sr", "Junior", "Senior", "I", "II", "III", "IV", "V",
}

// AcademicSuffixes are credentials, not part of the name.
var AcademicSuffixes = []string{
	"PhD", "Ph.D", "Ph.D.", "MD", "M.D", "M.D.", "MBA", "Esq", "Esq.",
}

// Prefixes are honorifics that are dropped.
var Prefixes = []string{
	"Dr.", "Dr", "Mr.", "Mr", "Mrs.", "Mrs", "Ms.", "Ms", "Prof.", "Prof",
	"Sir", "Dame", "Lord", "Lady",
}

// Particles stay with the given name, library style:
// "Ludwig van Beethoven" -> "Beethoven Ludwig van".
var Particles = []string{
	"van", "von", "de", "da", "di", "du", "del", "della", "la", "le", "bin", "ibn",
}

// ForAuthor returns the catalog display name of an author. When fileAs (the
// EPUB file-as attribute) is given it wins, since it is already surname first.
//
// Examples:
//   - ("Stephen King", "") -> "King Stephen"
//   - ("Stephen King", "King, Stephen") -> "King Stephen"
//   - ("King, Stephen", "") -> "King Stephen"
//   - ("Ludwig van Beethoven", "") -> "Beethoven Ludwig van"
//   - ("Плато", "") -> "Плато"
func ForAuthor(name, fileAs string) string {
	if s := fromInverted(fileAs); s != "" {
		return s
	}
	if strings.Contains(name, ",") {
		if s := fromInverted(name); s != "" {
			return s
		}
	}
	return ForPerson(name)
}

func fromInverted(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(s, ",", " ")), " ")
}

// ForPerson converts a "First Middle Last" name into "Last First Middle".
func ForPerson(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}

	for len(parts) > 1 && isOneOf(parts[0], Prefixes) {
		parts = parts[1:]
	}

	var generational []string
	for len(parts) > 1 {
		last := strings.TrimSuffix(parts[len(parts)-1], ",")
		if isOneOf(last, GenerationalSuffixes) {
			generational = append([]string{last}, generational...)
		} else if !isOneOf(last, AcademicSuffixes) {
			break
		}
		parts = parts[:len(parts)-1]
	}

	surname := strings.TrimSuffix(parts[len(parts)-1], ",")
	given := parts[:len(parts)-1]

	var particles []string
	for len(given) > 0 && isOneOf(given[len(given)-1], Particles) {
		particles = append([]string{given[len(given)-1]}, particles...)
		given = given[:len(given)-1]
	}

	out := []string{surname}
	out = append(out, given...)
	out = append(out, particles...)
	out = append(out, generational...)
	return strings.Join(out, " ")
}

func isOneOf(word string, list []string) bool {
	for _, w := range list {
		if strings.EqualFold(word, w) {
			return true
		}
	}
	return false
}
