package epub

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOPF(t *testing.T, filename, opfXML string) *OPF {
	t.Helper()
	result, err := ParseOPF(filename, io.NopCloser(strings.NewReader(opfXML)))
	require.NoError(t, err)
	return result
}

func TestParseOPF_MainTitle(t *testing.T) {
	t.Parallel()
	opfXML := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title id="sub">A Subtitle</dc:title>
    <dc:title id="main">  The   Main Title </dc:title>
    <meta refines="#main" property="title-type">main</meta>
    <meta refines="#sub" property="title-type">subtitle</meta>
  </metadata>
</package>`

	result := parseOPF(t, "OEBPS/content.opf", opfXML)
	assert.Equal(t, "The Main Title", result.Title)
}

func TestParseOPF_Authors(t *testing.T) {
	t.Parallel()
	opfXML := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>Book</dc:title>
    <dc:creator opf:role="aut" opf:file-as="Tolstoy, Leo">Leo Tolstoy</dc:creator>
    <dc:creator opf:role="trl">Some Translator</dc:creator>
    <dc:creator opf:role="aut">Leo Tolstoy</dc:creator>
  </metadata>
</package>`

	result := parseOPF(t, "content.opf", opfXML)
	require.Len(t, result.Authors, 1)
	assert.Equal(t, "Tolstoy Leo", result.Authors[0])
}

func TestParseOPF_CalibreSeries(t *testing.T) {
	t.Parallel()
	opfXML := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Book</dc:title>
    <dc:subject> Fiction </dc:subject>
    <dc:subject></dc:subject>
    <dc:language>EN</dc:language>
    <dc:description>&lt;p&gt;An &lt;b&gt;epic&lt;/b&gt; tale.&lt;/p&gt;</dc:description>
    <meta name="calibre:series" content="The Saga"/>
    <meta name="calibre:series_index" content="3.0"/>
  </metadata>
</package>`

	result := parseOPF(t, "content.opf", opfXML)
	assert.Equal(t, "The Saga", result.Series)
	require.NotNil(t, result.SeriesNumber)
	assert.Equal(t, 3, *result.SeriesNumber)
	assert.Equal(t, []string{"Fiction"}, result.Subjects)
	assert.Equal(t, "en", result.Language)
	assert.Equal(t, "An epic tale.", result.Description)
}

func TestParseOPF_CollectionSeries(t *testing.T) {
	t.Parallel()
	opfXML := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Book</dc:title>
    <meta property="belongs-to-collection" id="set">Box Set</meta>
    <meta refines="#set" property="collection-type">set</meta>
    <meta property="belongs-to-collection" id="c1">Dune Chronicles</meta>
    <meta refines="#c1" property="collection-type">series</meta>
    <meta refines="#c1" property="group-position">2</meta>
  </metadata>
</package>`

	result := parseOPF(t, "content.opf", opfXML)
	assert.Equal(t, "Dune Chronicles", result.Series)
	require.NotNil(t, result.SeriesNumber)
	assert.Equal(t, 2, *result.SeriesNumber)
}

func TestParseOPF_Cover(t *testing.T) {
	t.Parallel()

	t.Run("cover meta", func(tt *testing.T) {
		opfXML := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Book</dc:title>
    <meta name="cover" content="cover-img"/>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="cover-img" href="images/cover.jpg" media-type="image/jpeg"/>
  </manifest>
</package>`

		result := parseOPF(tt, "OEBPS/content.opf", opfXML)
		assert.Equal(tt, "OEBPS/images/cover.jpg", result.CoverFilepath)
		assert.Equal(tt, "image/jpeg", result.CoverMimeType)
	})

	t.Run("cover-image property", func(tt *testing.T) {
		opfXML := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Book</dc:title>
  </metadata>
  <manifest>
    <item id="c" href="cover.png" media-type="image/png" properties="cover-image"/>
  </manifest>
</package>`

		result := parseOPF(tt, "content.opf", opfXML)
		assert.Equal(tt, "cover.png", result.CoverFilepath)
		assert.Equal(tt, "image/png", result.CoverMimeType)
	})

	t.Run("no cover", func(tt *testing.T) {
		opfXML := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Book</dc:title></metadata>
</package>`

		result := parseOPF(tt, "content.opf", opfXML)
		assert.Empty(tt, result.CoverFilepath)
	})
}
