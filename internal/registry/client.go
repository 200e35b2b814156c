package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

type registerParams struct {
	Registrations []clientRegistration `json:"registrations"`
}

type clientRegistration struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	RegisterOptions registerOptions `json:"registerOptions"`
}

type registerOptions struct {
	DocumentSelector []Selector `json:"documentSelector"`
}

// The field name misspelling is part of the protocol.
type unregisterParams struct {
	Unregisterations []clientUnregistration `json:"unregisterations"`
}

type clientUnregistration struct {
	ID     string `json:"id"`
	Method string `json:"method"`
}

// ClientRegistrar registers textDocument/formatting with the client through
// client/registerCapability.
type ClientRegistrar struct {
	conn jsonrpc2.Conn
}

func NewClientRegistrar(conn jsonrpc2.Conn) *ClientRegistrar {
	return &ClientRegistrar{conn: conn}
}

func (r *ClientRegistrar) Register(ctx context.Context, selector Selector) (Handle, error) {
	id := uuid.New().String()

	params := registerParams{
		Registrations: []clientRegistration{
			{
				ID:     id,
				Method: protocol.MethodTextDocumentFormatting,
				RegisterOptions: registerOptions{
					DocumentSelector: []Selector{selector},
				},
			},
		},
	}

	var result interface{}
	if _, err := r.conn.Call(ctx, protocol.MethodClientRegisterCapability, params, &result); err != nil {
		return nil, fmt.Errorf("failed to register formatting for %s documents: %w", selector.Scheme, err)
	}

	return &clientHandle{conn: r.conn, id: id}, nil
}

type clientHandle struct {
	conn jsonrpc2.Conn
	id   string
}

func (h *clientHandle) Release(ctx context.Context) error {
	params := unregisterParams{
		Unregisterations: []clientUnregistration{
			{ID: h.id, Method: protocol.MethodTextDocumentFormatting},
		},
	}

	var result interface{}
	if _, err := h.conn.Call(ctx, protocol.MethodClientUnregisterCapability, params, &result); err != nil {
		return fmt.Errorf("failed to unregister %s: %w", h.id, err)
	}

	return nil
}
