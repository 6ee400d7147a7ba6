// Package opc reads the Open Packaging Conventions layer shared by .xlsx and
// .xlsb workbooks: a zip of named parts linked by relationship files.
package opc

import (
	"encoding/xml"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/ajitpratap0/sheetpipe/pkg/errors"
)

// Relationship type suffixes. Strict and transitional namespaces differ only
// in their prefix.
const (
	RelOfficeDocument = "/officeDocument"
	RelWorksheet      = "/worksheet"
	RelSharedStrings  = "/sharedStrings"
	RelStyles         = "/styles"
)

// Relationship is one entry of a .rels part, with Target resolved to an
// absolute part name.
type Relationship struct {
	ID     string `xml:"Id,attr"`
	Type   string `xml:"Type,attr"`
	Target string `xml:"Target,attr"`
}

// Package is an open zip container.
type Package struct {
	path  string
	zr    *zip.ReadCloser
	parts map[string]*zip.File
}

// Open opens the container at filePath. A file that is not a zip archive is
// reported as malformed; other failures as I/O errors.
func Open(filePath string) (*Package, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, errors.Wrap(err, errors.ErrorTypeMalformedSource, "not a zip container").
				WithDetail("path", filePath)
		}
		return nil, errors.IOError(err, filePath, "failed to open workbook")
	}
	p := &Package{
		path:  filePath,
		zr:    zr,
		parts: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		p.parts[strings.ToLower(f.Name)] = f
	}
	return p, nil
}

// Path returns the file the package was opened from.
func (p *Package) Path() string { return p.path }

// Close releases the container.
func (p *Package) Close() error { return p.zr.Close() }

// Has reports whether the named part exists. Part names are case-insensitive.
func (p *Package) Has(name string) bool { return p.part(name) != nil }

func (p *Package) part(name string) *zip.File {
	return p.parts[strings.ToLower(strings.TrimPrefix(name, "/"))]
}

// OpenPart opens the named part for streaming.
func (p *Package) OpenPart(name string) (io.ReadCloser, error) {
	f := p.part(name)
	if f == nil {
		return nil, errors.Newf(errors.ErrorTypeMalformedSource, "part %s is missing", name).
			WithDetail("path", p.path)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, p.Malformed(err, name)
	}
	return rc, nil
}

// Malformed wraps a decoding failure in part.
func (p *Package) Malformed(err error, part string) *errors.Error {
	return errors.Wrap(err, errors.ErrorTypeMalformedSource, "failed to decode "+part).
		WithDetail("path", p.path)
}

// DecodeXML unmarshals a small XML part into v. A missing part is reported
// through the boolean, not as an error.
func (p *Package) DecodeXML(name string, v interface{}) (bool, error) {
	if !p.Has(name) {
		return false, nil
	}
	rc, err := p.OpenPart(name)
	if err != nil {
		return true, err
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return true, p.Malformed(err, name)
	}
	return true, nil
}

// MainDocument returns the workbook part named by the package relationships,
// or fallback when the package has none.
func (p *Package) MainDocument(fallback string) (string, error) {
	rels, err := p.Relationships("")
	if err != nil {
		return "", err
	}
	for _, rel := range rels {
		if strings.HasSuffix(rel.Type, RelOfficeDocument) {
			return rel.Target, nil
		}
	}
	return fallback, nil
}

// Relationships returns the relationships of part ("" for the package
// itself) with targets resolved against the part's directory.
func (p *Package) Relationships(part string) ([]Relationship, error) {
	dir, relsPart := "", "_rels/.rels"
	if part != "" {
		dir = path.Dir(part)
		relsPart = path.Join(dir, "_rels", path.Base(part)+".rels")
	}
	var doc struct {
		Items []Relationship `xml:"Relationship"`
	}
	if _, err := p.DecodeXML(relsPart, &doc); err != nil {
		return nil, err
	}
	for i := range doc.Items {
		doc.Items[i].Target = resolveTarget(dir, doc.Items[i].Target)
	}
	return doc.Items, nil
}

func resolveTarget(dir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	if dir == "." {
		dir = ""
	}
	return path.Join(dir, target)
}
