package formatting

import (
	"context"

	"github.com/hongdown/hongdown-ls/internal/config"
	"go.lsp.dev/protocol"
)

// Settings provides a fresh configuration snapshot for each format call
type Settings interface {
	Snapshot(folder string) config.Snapshot
}

// Workspace resolves the workspace folders a document may belong to
type Workspace interface {
	// FolderFor returns the workspace folder containing the given path
	FolderFor(path string) (string, bool)

	// First returns the first workspace folder, or "" when there is none
	First() string
}

// Notifier surfaces failures to the user
type Notifier interface {
	ShowError(ctx context.Context, message string)
}

// EditsProvider answers document formatting requests
type EditsProvider interface {
	ProvideEdits(ctx context.Context, doc Document, options protocol.FormattingOptions) []protocol.TextEdit
}
