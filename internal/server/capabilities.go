package server

import (
	"fmt"

	"github.com/hongdown/hongdown-ls/internal/config"
	"go.lsp.dev/protocol"
)

const (
	LspCommandPrefix         = config.Name
	LspCommandSeparator      = "/"
	LspCommandNameShowConfig = "showConfig"
)

// serverCapabilities advertises formatting statically only for clients that
// cannot register it dynamically.
func serverCapabilities(staticFormatting bool) protocol.ServerCapabilities {
	capabilities := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			Change:    protocol.TextDocumentSyncKindFull,
			OpenClose: true,
			Save:      &protocol.SaveOptions{IncludeText: true},
		},
		ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
			Commands: []string{
				getFullLspCommandName(LspCommandNameShowConfig),
			},
		},
	}
	if staticFormatting {
		capabilities.DocumentFormattingProvider = true
	}

	return capabilities
}

func serverInfo() *protocol.ServerInfo {
	return &protocol.ServerInfo{
		Name:    string(config.Name),
		Version: string(config.Version),
	}
}

func getFullLspCommandName(command string) string {
	return fmt.Sprintf("%s%s%s", LspCommandPrefix, LspCommandSeparator, command)
}
