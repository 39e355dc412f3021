package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shelfopds/shelfopds/pkg/htmlutil"
	"github.com/shelfopds/shelfopds/pkg/sortname"
	"golang.org/x/net/html/charset"
)

// ErrNoOPF is returned when the archive has no package document.
var ErrNoOPF = errors.New("epub: no opf file found")

type OPF struct {
	Title         string
	Authors       []string
	Series        string
	SeriesNumber  *int
	Subjects      []string
	Language      string
	Description   string
	CoverFilepath string
	CoverMimeType string
}

type Container struct {
	XMLName   xml.Name `xml:"container"`
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type Package struct {
	XMLName  xml.Name `xml:"package"`
	Version  string   `xml:"version,attr"`
	Metadata struct {
		Title []struct {
			Text string `xml:",chardata"`
			ID   string `xml:"id,attr"`
		} `xml:"title"`
		Creator []struct {
			Text   string `xml:",chardata"`
			ID     string `xml:"id,attr"`
			Role   string `xml:"role,attr"`
			FileAs string `xml:"file-as,attr"`
		} `xml:"creator"`
		Subject     []string `xml:"subject"`
		Description string   `xml:"description"`
		Language    []string `xml:"language"`
		Meta        []struct {
			Text     string `xml:",chardata"`
			ID       string `xml:"id,attr"`
			Name     string `xml:"name,attr"`
			Content  string `xml:"content,attr"`
			Refines  string `xml:"refines,attr"`
			Property string `xml:"property,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Item []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
}

func decodeXML(r io.Reader, v interface{}) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	return errors.WithStack(dec.Decode(v))
}

// Parse opens raw EPUB bytes as a zip archive and reads its package metadata.
func Parse(raw []byte) (*OPF, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseArchive(zr)
}

// ParseArchive locates the package document through META-INF/container.xml,
// falling back to the first .opf entry, and parses it.
func ParseArchive(zr *zip.Reader) (*OPF, error) {
	file := findOPF(zr)
	if file == nil {
		return nil, ErrNoOPF
	}
	r, err := file.Open()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()
	return ParseOPF(file.Name, r)
}

func findOPF(zr *zip.Reader) *zip.File {
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}

	if c, ok := byName["META-INF/container.xml"]; ok {
		if r, err := c.Open(); err == nil {
			container := &Container{}
			err = decodeXML(r, container)
			r.Close()
			if err == nil {
				for _, rf := range container.Rootfiles {
					if f, ok := byName[strings.TrimPrefix(rf.FullPath, "/")]; ok {
						return f
					}
				}
			}
		}
	}

	for _, f := range zr.File {
		if strings.EqualFold(path.Ext(f.Name), ".opf") {
			return f
		}
	}
	return nil
}

func ParseOPF(filename string, r io.Reader) (*OPF, error) {
	pkg := &Package{}
	if err := decodeXML(r, pkg); err != nil {
		return nil, err
	}

	// All manifest hrefs are relative to the package document.
	basePath := path.Dir(filename)
	if basePath == "." {
		basePath = ""
	} else {
		basePath += "/"
	}

	metaProperties := map[string]map[string]string{}
	metaContent := map[string]string{}
	for _, m := range pkg.Metadata.Meta {
		if m.Refines != "" {
			key := strings.TrimPrefix(m.Refines, "#")
			if _, ok := metaProperties[key]; !ok {
				metaProperties[key] = map[string]string{}
			}
			metaProperties[key][m.Property] = strings.TrimSpace(m.Text)
		} else if m.Name != "" {
			metaContent[m.Name] = strings.TrimSpace(m.Content)
		} else if m.Property != "" {
			metaContent[m.Property] = strings.TrimSpace(m.Text)
		}
	}

	title := ""
	for _, t := range pkg.Metadata.Title {
		if t.ID != "" && metaProperties[t.ID]["title-type"] == "main" {
			title = t.Text
			break
		}
	}
	if title == "" && len(pkg.Metadata.Title) > 0 {
		title = pkg.Metadata.Title[0].Text
	}

	authors := []string{}
	seen := map[string]struct{}{}
	for _, creator := range pkg.Metadata.Creator {
		role := creator.Role
		if role == "" && creator.ID != "" {
			role = metaProperties[creator.ID]["role"]
		}
		if role != "" && role != "aut" && len(pkg.Metadata.Creator) > 1 {
			continue
		}
		fileAs := creator.FileAs
		if fileAs == "" && creator.ID != "" {
			fileAs = metaProperties[creator.ID]["file-as"]
		}
		name := sortname.ForAuthor(creator.Text, fileAs)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		authors = append(authors, name)
	}

	subjects := []string{}
	for _, s := range pkg.Metadata.Subject {
		if s = strings.TrimSpace(s); s != "" {
			subjects = append(subjects, s)
		}
	}

	language := ""
	if len(pkg.Metadata.Language) > 0 {
		language = strings.ToLower(strings.TrimSpace(pkg.Metadata.Language[0]))
	}

	coverFilepath, coverMimeType := "", ""
	for _, item := range pkg.Manifest.Item {
		isCover := metaContent["cover"] != "" && item.ID == metaContent["cover"]
		if !isCover {
			for _, p := range strings.Fields(item.Properties) {
				if p == "cover-image" {
					isCover = true
				}
			}
		}
		if isCover {
			coverFilepath = basePath + item.Href
			coverMimeType = item.MediaType
			break
		}
	}

	// calibre writes series as name/content meta; EPUB 3 uses belongs-to-collection.
	series := metaContent["calibre:series"]
	seriesIndex := metaContent["calibre:series_index"]
	if series == "" {
		for _, m := range pkg.Metadata.Meta {
			if m.Property != "belongs-to-collection" || m.Refines != "" {
				continue
			}
			props := metaProperties[m.ID]
			if t := props["collection-type"]; t != "" && t != "series" {
				continue
			}
			series = strings.TrimSpace(m.Text)
			seriesIndex = props["group-position"]
			break
		}
	}
	var seriesNumber *int
	if seriesIndex != "" {
		if num, err := strconv.ParseFloat(strings.TrimSpace(seriesIndex), 64); err == nil && num >= 0 {
			seriesNumber = pointerutil.Int(int(num))
		}
	}

	return &OPF{
		Title:         strings.Join(strings.Fields(title), " "),
		Authors:       authors,
		Series:        strings.Join(strings.Fields(series), " "),
		SeriesNumber:  seriesNumber,
		Subjects:      subjects,
		Language:      language,
		Description:   htmlutil.StripTags(pkg.Metadata.Description),
		CoverFilepath: coverFilepath,
		CoverMimeType: coverMimeType,
	}, nil
}

// Cover returns the cover image bytes and mime type. A book without a cover
// returns nil data and no error.
func Cover(raw []byte) ([]byte, string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, "", errors.WithStack(err)
	}
	opf, err := ParseArchive(zr)
	if err != nil {
		return nil, "", err
	}
	if opf.CoverFilepath == "" {
		return nil, "", nil
	}
	for _, file := range zr.File {
		if file.Name != opf.CoverFilepath {
			continue
		}
		r, err := file.Open()
		if err != nil {
			return nil, "", errors.WithStack(err)
		}
		defer r.Close()
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, "", errors.WithStack(err)
		}
		return b, opf.CoverMimeType, nil
	}
	return nil, "", nil
}
