package genres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<?xml version="1.0" encoding="utf-8"?>
<genres>
  <genre tag="sf_all" name="Фантастика" translation="Science Fiction">
    <subgenre tag="sf_fantasy" name="Фэнтези" translation="Fantasy"/>
    <subgenre tag="sf_space" name="Космическая фантастика" translation=""/>
  </genre>
  <genre tag="prose_all" name="Проза" translation="Prose">
    <subgenre tag="prose_classic" name="Классическая проза" translation="Classics Prose"/>
    <subgenre tag="sf_fantasy" name="Дубль" translation="Duplicate"/>
  </genre>
</genres>`

func TestLoad(t *testing.T) {
	t.Parallel()

	tax, err := Load(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, 5, tax.Len())

	roots := tax.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "sf_all", roots[0].Tag)
	assert.True(t, roots[0].IsTopLevel())

	children := tax.Children("sf_all")
	require.Len(t, children, 2)
	assert.Equal(t, "sf_fantasy", children[0].Tag)
	assert.Equal(t, "sf_space", children[1].Tag)

	// The repeated tag stays under its first parent.
	assert.Len(t, tax.Children("prose_all"), 1)
	parent, ok := tax.Parent("sf_fantasy")
	require.True(t, ok)
	assert.Equal(t, "sf_all", parent.Tag)

	_, ok = tax.Parent("sf_all")
	assert.False(t, ok)
}

func TestLookupMiss(t *testing.T) {
	t.Parallel()

	tax, err := Load(strings.NewReader(sample))
	require.NoError(t, err)

	_, ok := tax.Lookup("no_such_genre")
	assert.False(t, ok)
	assert.Nil(t, tax.Children("no_such_genre"))
}

func TestDisplay(t *testing.T) {
	t.Parallel()

	tax, err := Load(strings.NewReader(sample))
	require.NoError(t, err)

	n, ok := tax.Lookup("sf_fantasy")
	require.True(t, ok)
	assert.Equal(t, "Фэнтези", n.Display("ru"))
	assert.Equal(t, "Fantasy", n.Display("en"))

	// Missing translation falls back to the name.
	n, ok = tax.Lookup("sf_space")
	require.True(t, ok)
	assert.Equal(t, "Космическая фантастика", n.Display("en"))
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", "<genres><genre"},
		{"empty", "<genres></genres>"},
		{"missing tag", `<genres><genre name="x"/></genres>`},
		{"missing subgenre tag", `<genres><genre tag="a"><subgenre name="b"/></genre></genres>`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	tax, err := Default()
	require.NoError(t, err)
	assert.Greater(t, tax.Len(), 100)

	n, ok := tax.Lookup("prose_classic")
	require.True(t, ok)
	parent, ok := tax.Parent(n.Tag)
	require.True(t, ok)
	assert.Equal(t, "prose_all", parent.Tag)

	for _, root := range tax.Roots() {
		assert.NotEmpty(t, root.Children, "root %s", root.Tag)
	}
}
