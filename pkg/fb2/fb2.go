// Package fb2 reads bibliographic metadata and cover images out of
// FictionBook 2 documents.
package fb2

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shelfopds/shelfopds/pkg/htmlutil"
	"golang.org/x/net/html/charset"
)

// ErrNoDescription is returned when the document has no <description> block.
var ErrNoDescription = errors.New("fb2: no description block")

// Metadata is the subset of <title-info> the library indexes.
type Metadata struct {
	Title        string
	Authors      []string
	Series       string
	SeriesNumber *int
	Genres       []string
	Language     string
	Annotation   string
	CoverID      string
}

type description struct {
	TitleInfo struct {
		Genres     []string `xml:"genre"`
		Authors    []author `xml:"author"`
		BookTitle  string   `xml:"book-title"`
		Annotation struct {
			Inner string `xml:",innerxml"`
		} `xml:"annotation"`
		Lang      string `xml:"lang"`
		Sequences []struct {
			Name   string `xml:"name,attr"`
			Number string `xml:"number,attr"`
		} `xml:"sequence"`
		Coverpage struct {
			Images []struct {
				Href string `xml:"href,attr"`
			} `xml:"image"`
		} `xml:"coverpage"`
	} `xml:"title-info"`
}

type author struct {
	FirstName  string `xml:"first-name"`
	MiddleName string `xml:"middle-name"`
	LastName   string `xml:"last-name"`
	Nickname   string `xml:"nickname"`
}

// DisplayName renders "Last First Middle", falling back to the nickname.
func (a author) DisplayName() string {
	name := strings.Join(strings.Fields(strings.Join([]string{a.LastName, a.FirstName, a.MiddleName}, " ")), " ")
	if name == "" {
		name = strings.Join(strings.Fields(a.Nickname), " ")
	}
	return name
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	return dec
}

// Parse reads the <description> block of an FB2 document. Only the head of
// the document is decoded; the body is never read. Legacy encodings declared
// in the XML prolog (windows-1251, koi8-r, ...) are transcoded.
func Parse(r io.Reader) (*Metadata, error) {
	dec := newDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, ErrNoDescription
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "FictionBook":
			continue
		case "description":
			d := &description{}
			if err := dec.DecodeElement(d, &start); err != nil {
				return nil, errors.WithStack(err)
			}
			return d.metadata(), nil
		case "body", "binary":
			return nil, ErrNoDescription
		}
	}
}

func (d *description) metadata() *Metadata {
	ti := d.TitleInfo
	md := &Metadata{
		Title:      strings.Join(strings.Fields(ti.BookTitle), " "),
		Language:   strings.ToLower(strings.TrimSpace(ti.Lang)),
		Annotation: htmlutil.StripTags(ti.Annotation.Inner),
	}

	seen := map[string]struct{}{}
	for _, a := range ti.Authors {
		name := a.DisplayName()
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		md.Authors = append(md.Authors, name)
	}

	for _, g := range ti.Genres {
		g = strings.TrimSpace(g)
		if g != "" {
			md.Genres = append(md.Genres, g)
		}
	}

	for _, s := range ti.Sequences {
		name := strings.Join(strings.Fields(s.Name), " ")
		if name == "" {
			continue
		}
		md.Series = name
		md.SeriesNumber = parseNumber(s.Number)
		break
	}

	for _, img := range ti.Coverpage.Images {
		if id := strings.TrimPrefix(strings.TrimSpace(img.Href), "#"); id != "" {
			md.CoverID = id
			break
		}
	}

	return md
}

// parseNumber accepts "3", " 3 " and "3.0"; anything else has no number.
func parseNumber(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return pointerutil.Int(int(f))
}

// Cover returns the decoded cover image referenced by the coverpage, along
// with its declared content type. A document without a cover returns a nil
// slice and no error.
func Cover(raw []byte) ([]byte, string, error) {
	md, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, "", err
	}
	if md.CoverID == "" {
		return nil, "", nil
	}

	dec := newDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", errors.WithStack(err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "binary" {
			continue
		}
		var id, contentType string
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "id":
				id = attr.Value
			case "content-type":
				contentType = attr.Value
			}
		}
		if id != md.CoverID {
			if err := dec.Skip(); err != nil {
				return nil, "", errors.WithStack(err)
			}
			continue
		}
		var payload string
		if err := dec.DecodeElement(&payload, &start); err != nil {
			return nil, "", errors.WithStack(err)
		}
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(payload), ""))
		if err != nil {
			return nil, "", errors.Wrap(err, "fb2: cover is not valid base64")
		}
		return data, contentType, nil
	}
}
