package formatter

import (
	"github.com/hongdown/hongdown-ls/internal/utils"
	"go.lsp.dev/protocol"
)

// NoEdits is the empty, non-nil edit list sent when nothing changes.
func NoEdits() []protocol.TextEdit {
	return []protocol.TextEdit{}
}

// Edits replaces the whole of original with formatted. Partial edits are
// never produced, so a document is either fully replaced or untouched.
func Edits(original string, formatted string) []protocol.TextEdit {
	if original == formatted {
		return NoEdits()
	}

	return []protocol.TextEdit{
		{
			Range: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   utils.DocumentEnd(original),
			},
			NewText: formatted,
		},
	}
}
