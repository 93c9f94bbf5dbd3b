// Package attachments turns uploaded files into text excerpts that are
// appended to the Stage 1 prompt.
package attachments

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/charmap"

	"github.com/ahrav/go-council/internal/domain"
)

// ErrUnsupportedAttachment is returned for file types with no extractor.
var ErrUnsupportedAttachment = errors.New("unsupported attachment type")

// TruncationMarker ends an excerpt that was cut to fit the limit.
const TruncationMarker = "\n[... truncated ...]"

// SupportedExtensions lists the file extensions Excerpt understands.
func SupportedExtensions() []string {
	return []string{".txt", ".md", ".mdx", ".html", ".htm"}
}

// Excerpt extracts the text of a file and truncates it to maxChars runes.
// maxChars <= 0 disables truncation.
func Excerpt(name string, content []byte, maxChars int) (domain.Attachment, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".mdx":
		text = decodeText(content)
	case ".html", ".htm":
		text, err = htmlText(content)
		if err != nil {
			return domain.Attachment{}, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return domain.Attachment{}, fmt.Errorf("%w: %s", ErrUnsupportedAttachment, name)
	}

	return domain.Attachment{Name: filepath.Base(name), Excerpt: truncate(strings.TrimSpace(text), maxChars)}, nil
}

// decodeText reads UTF-8, falling back to Latin-1 for legacy files.
func decodeText(content []byte) string {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if utf8.Valid(content) {
		return string(content)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		return strings.ToValidUTF8(string(content), "�")
	}
	return string(decoded)
}

// htmlText returns the visible text of an HTML document, one block per
// line. Scripts, styles and other non-content elements are dropped.
func htmlText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template, svg, head").Remove()

	var lines []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, td, th, blockquote, dt, dd").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are read by their outermost match.
		if s.ParentsFiltered("p, li, pre, td, th, blockquote, dd").Length() > 0 {
			return
		}
		if line := strings.Join(strings.Fields(s.Text()), " "); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " "), nil
	}
	return strings.Join(lines, "\n"), nil
}

func truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars]) + TruncationMarker
}
