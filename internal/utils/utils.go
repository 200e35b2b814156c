package utils

import (
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

const (
	SchemeFile     = "file"
	SchemeUntitled = "untitled"

	LanguageMarkdown = "markdown"
)

var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdown":    true,
	".mkd":      true,
	".mkdn":     true,
}

// URIScheme returns the lower-cased scheme of u, or "" if u does not parse.
func URIScheme(u protocol.DocumentURI) string {
	parsed, err := url.Parse(string(u))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// URIToPath returns the filesystem path of a file URI, or "" for any other
// scheme.
func URIToPath(u protocol.DocumentURI) (path string) {
	if URIScheme(u) != SchemeFile {
		return ""
	}

	// Filename panics on URIs it cannot parse.
	defer func() {
		if recover() != nil {
			path = ""
		}
	}()

	return uri.URI(u).Filename()
}

// PathToURI builds a file URI for an absolute path.
func PathToURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI(uri.File(path))
}

// LanguageForPath guesses the language ID from the file extension.
func LanguageForPath(path string) string {
	if markdownExtensions[strings.ToLower(filepath.Ext(path))] {
		return LanguageMarkdown
	}
	return ""
}

// DocumentEnd returns the position just past the last character of text,
// counting lines the way LSP does (\n, \r\n and \r all end a line) and
// characters in UTF-16 code units.
func DocumentEnd(text string) protocol.Position {
	var line, character uint32

	for i := 0; i < len(text); {
		switch text[i] {
		case '\r':
			line++
			character = 0
			i++
			if i < len(text) && text[i] == '\n' {
				i++
			}
			continue
		case '\n':
			line++
			character = 0
			i++
			continue
		}

		r, size := utf8.DecodeRuneInString(text[i:])
		if r >= 0x10000 {
			// Surrogate pair.
			character += 2
		} else {
			character++
		}
		i += size
	}

	return protocol.Position{Line: line, Character: character}
}
