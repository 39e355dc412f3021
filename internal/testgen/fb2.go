package testgen

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

// GenerateFB2 writes an FB2 document (or a zipped one when opts.Zipped is
// set) into dir and returns its path.
func GenerateFB2(t *testing.T, dir, filename string, opts FB2Options) string {
	t.Helper()
	return WriteFile(t, dir, filename, FB2Bytes(t, opts))
}

// FB2Bytes builds an FB2 document in memory with a description block, a
// one-section body and, optionally, a PNG cover stored as a <binary>.
func FB2Bytes(t *testing.T, opts FB2Options) []byte {
	t.Helper()

	encoding := opts.Encoding
	if encoding == "" {
		encoding = "utf-8"
	}
	language := opts.Language
	if language == "" {
		language = "ru"
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("<?xml version=\"1.0\" encoding=\"%s\"?>\n", encoding))
	buf.WriteString(`<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0" xmlns:l="http://www.w3.org/1999/xlink">` + "\n")
	buf.WriteString("  <description>\n    <title-info>\n")

	for _, genre := range opts.Genres {
		buf.WriteString(fmt.Sprintf("      <genre>%s</genre>\n", escapeXML(genre)))
	}
	for _, author := range opts.Authors {
		buf.WriteString("      <author>")
		parts := strings.Fields(author)
		switch len(parts) {
		case 0:
		case 1:
			buf.WriteString(fmt.Sprintf("<nickname>%s</nickname>", escapeXML(parts[0])))
		case 2:
			buf.WriteString(fmt.Sprintf("<first-name>%s</first-name><last-name>%s</last-name>", escapeXML(parts[0]), escapeXML(parts[1])))
		default:
			buf.WriteString(fmt.Sprintf("<first-name>%s</first-name><middle-name>%s</middle-name><last-name>%s</last-name>",
				escapeXML(parts[0]), escapeXML(strings.Join(parts[1:len(parts)-1], " ")), escapeXML(parts[len(parts)-1])))
		}
		buf.WriteString("</author>\n")
	}
	if opts.Title != "" {
		buf.WriteString(fmt.Sprintf("      <book-title>%s</book-title>\n", escapeXML(opts.Title)))
	}
	if opts.Annotation != "" {
		buf.WriteString(fmt.Sprintf("      <annotation>%s</annotation>\n", opts.Annotation))
	}
	if opts.HasCover {
		buf.WriteString("      <coverpage><image l:href=\"#cover.png\"/></coverpage>\n")
	}
	buf.WriteString(fmt.Sprintf("      <lang>%s</lang>\n", escapeXML(language)))
	if opts.Series != "" {
		if opts.SeriesNumber != nil {
			buf.WriteString(fmt.Sprintf("      <sequence name=\"%s\" number=\"%d\"/>\n", escapeXML(opts.Series), *opts.SeriesNumber))
		} else {
			buf.WriteString(fmt.Sprintf("      <sequence name=\"%s\"/>\n", escapeXML(opts.Series)))
		}
	}
	buf.WriteString("    </title-info>\n  </description>\n")
	buf.WriteString("  <body><section><p>Test chapter.</p></section></body>\n")
	if opts.HasCover {
		cover := base64.StdEncoding.EncodeToString(generateImage(t, "image/png"))
		buf.WriteString("  <binary id=\"cover.png\" content-type=\"image/png\">\n")
		for len(cover) > 76 {
			buf.WriteString(cover[:76] + "\n")
			cover = cover[76:]
		}
		buf.WriteString(cover + "\n  </binary>\n")
	}
	buf.WriteString("</FictionBook>\n")

	doc := buf.Bytes()
	if strings.EqualFold(encoding, "windows-1251") {
		encoded, err := charmap.Windows1251.NewEncoder().Bytes(doc)
		if err != nil {
			t.Fatalf("failed to encode FB2 as windows-1251: %v", err)
		}
		doc = encoded
	}

	if !opts.Zipped {
		return doc
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	if err := writeZipFile(zw, "book.fb2", doc); err != nil {
		t.Fatalf("failed to write zipped FB2: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close FB2 archive: %v", err)
	}
	return out.Bytes()
}
