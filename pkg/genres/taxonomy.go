// Package genres holds the two-level genre taxonomy. The tree is built once
// into a flat slice with parent and child links expressed as indices, so a
// loaded Taxonomy is read-only and safe to share between goroutines.
package genres

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
)

//go:embed genres.xml
var defaultGenres []byte

// NoParent is the Parent index of a top-level genre.
const NoParent = -1

// Node is one genre in the taxonomy.
type Node struct {
	Index       int
	Tag         string
	Name        string
	Translation string
	Parent      int
	Children    []int
}

// IsTopLevel reports whether the node has no parent genre.
func (n Node) IsTopLevel() bool {
	return n.Parent == NoParent
}

// Display returns the label for the given display locale. Russian shows the
// native name; every other locale shows the translation, falling back to the
// name when a translation is missing.
func (n Node) Display(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "ru") || n.Translation == "" {
		return n.Name
	}
	return n.Translation
}

// Taxonomy is the immutable genre tree.
type Taxonomy struct {
	nodes []Node
	roots []int
	byTag map[string]int
}

type xmlGenres struct {
	Genres []struct {
		Tag         string `xml:"tag,attr"`
		Name        string `xml:"name,attr"`
		Translation string `xml:"translation,attr"`
		Subgenres   []struct {
			Tag         string `xml:"tag,attr"`
			Name        string `xml:"name,attr"`
			Translation string `xml:"translation,attr"`
		} `xml:"subgenre"`
	} `xml:"genre"`
}

// Default returns the taxonomy bundled with the binary.
func Default() (*Taxonomy, error) {
	return Load(bytes.NewReader(defaultGenres))
}

// LoadFile reads a taxonomy document from disk. An empty path loads the
// bundled default.
func LoadFile(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	t, err := Load(f)
	return t, errors.Wrapf(err, "genres file %s", path)
}

// Load parses a taxonomy document. A tag seen twice keeps its first
// position; later repeats are ignored.
func Load(r io.Reader) (*Taxonomy, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var doc xmlGenres
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "malformed genres document")
	}

	t := &Taxonomy{byTag: make(map[string]int)}
	for _, g := range doc.Genres {
		tag := strings.TrimSpace(g.Tag)
		if tag == "" {
			return nil, errors.Errorf("genre %q has no tag", g.Name)
		}
		if _, ok := t.byTag[tag]; ok {
			continue
		}
		parent := t.add(tag, g.Name, g.Translation, NoParent)
		t.roots = append(t.roots, parent)

		for _, s := range g.Subgenres {
			subTag := strings.TrimSpace(s.Tag)
			if subTag == "" {
				return nil, errors.Errorf("subgenre %q of %s has no tag", s.Name, tag)
			}
			if _, ok := t.byTag[subTag]; ok {
				continue
			}
			child := t.add(subTag, s.Name, s.Translation, parent)
			t.nodes[parent].Children = append(t.nodes[parent].Children, child)
		}
	}
	if len(t.nodes) == 0 {
		return nil, errors.New("genres document has no genres")
	}
	return t, nil
}

func (t *Taxonomy) add(tag, name, translation string, parent int) int {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		Index:       idx,
		Tag:         tag,
		Name:        strings.TrimSpace(name),
		Translation: strings.TrimSpace(translation),
		Parent:      parent,
	})
	t.byTag[tag] = idx
	return idx
}

// Len is the number of genres, top-level and subgenres together.
func (t *Taxonomy) Len() int {
	return len(t.nodes)
}

// Lookup finds a genre by tag. ok is false for tags the taxonomy does not
// know; books carrying them are kept but never listed under a genre.
func (t *Taxonomy) Lookup(tag string) (Node, bool) {
	idx, ok := t.byTag[strings.TrimSpace(tag)]
	if !ok {
		return Node{}, false
	}
	return t.nodes[idx], true
}

// At returns the node at an arena index.
func (t *Taxonomy) At(idx int) Node {
	return t.nodes[idx]
}

// Roots returns the top-level genres in document order.
func (t *Taxonomy) Roots() []Node {
	out := make([]Node, 0, len(t.roots))
	for _, idx := range t.roots {
		out = append(out, t.nodes[idx])
	}
	return out
}

// Children returns the subgenres of tag in document order.
func (t *Taxonomy) Children(tag string) []Node {
	n, ok := t.Lookup(tag)
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(n.Children))
	for _, idx := range n.Children {
		out = append(out, t.nodes[idx])
	}
	return out
}

// Parent returns the parent genre of tag, if it has one.
func (t *Taxonomy) Parent(tag string) (Node, bool) {
	n, ok := t.Lookup(tag)
	if !ok || n.IsTopLevel() {
		return Node{}, false
	}
	return t.nodes[n.Parent], true
}

// Nodes returns every genre, parents before their children.
func (t *Taxonomy) Nodes() []Node {
	out := make([]Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}
