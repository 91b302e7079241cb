package webdav

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// davNamespace is the XML namespace of WebDAV elements.
const davNamespace = "DAV:"

// ParseMultistatus reads a PROPFIND response and returns the last path
// segment of every {DAV:}href, in document order. The entry for the
// collection itself, whose path is collectionPath, is left out.
func ParseMultistatus(r io.Reader, collectionPath string) ([]string, error) {
	self := strings.TrimRight(collectionPath, "/")

	var names []string
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding multistatus: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != davNamespace || start.Name.Local != "href" {
			continue
		}

		var href string
		if err := dec.DecodeElement(&href, &start); err != nil {
			return nil, fmt.Errorf("decoding href: %w", err)
		}

		p := hrefPath(strings.TrimSpace(href))
		if p == "" || p == self {
			continue
		}
		name := path.Base(p)
		if name == "." || name == "/" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// hrefPath returns the unescaped path of an href without trailing slashes.
// Servers send either absolute URLs or absolute paths.
func hrefPath(href string) string {
	if u, err := url.Parse(href); err == nil {
		return strings.TrimRight(u.Path, "/")
	}
	if p, err := url.PathUnescape(href); err == nil {
		return strings.TrimRight(p, "/")
	}
	return strings.TrimRight(href, "/")
}
