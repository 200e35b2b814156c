package registry

import (
	"context"
	"sync"

	"github.com/hongdown/hongdown-ls/internal/formatting"
	"github.com/hongdown/hongdown-ls/internal/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Selector identifies the documents a registration applies to.
type Selector struct {
	Language string `json:"language"`
	Scheme   string `json:"scheme"`
}

// DefaultSelectors cover saved files and unsaved buffers.
var DefaultSelectors = []Selector{
	{Language: utils.LanguageMarkdown, Scheme: utils.SchemeFile},
	{Language: utils.LanguageMarkdown, Scheme: utils.SchemeUntitled},
}

// Handle is a registration that can be released.
type Handle interface {
	Release(ctx context.Context) error
}

// Registrar announces registrations to the client.
type Registrar interface {
	Register(ctx context.Context, selector Selector) (Handle, error)
}

// registration is one entry of the registration set: a local route and,
// when the client registers dynamically, the client-side handle.
type registration struct {
	selector Selector
	handle   Handle
}

// Controller owns the set of active formatting registrations. mu guards
// the set and routes only; it is never held while the registrar talks to
// the client. refreshMu serializes Refresh and Close.
type Controller struct {
	refreshMu sync.Mutex
	closed    bool

	mu     sync.RWMutex
	set    []registration
	routes map[Selector]formatting.EditsProvider

	enabled   func() bool
	provider  formatting.EditsProvider
	registrar Registrar
	selectors []Selector
	logger    *zap.Logger
}

// New builds a controller binding provider to selectors whenever enabled
// reports true. A nil registrar keeps registrations local to the server.
func New(enabled func() bool, provider formatting.EditsProvider, registrar Registrar, selectors []Selector, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if selectors == nil {
		selectors = DefaultSelectors
	}

	return &Controller{
		routes:    make(map[Selector]formatting.EditsProvider),
		enabled:   enabled,
		provider:  provider,
		registrar: registrar,
		selectors: selectors,
		logger:    logger,
	}
}

// SetRegistrar switches to client-side registration. It applies from the
// next Refresh.
func (c *Controller) SetRegistrar(registrar Registrar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registrar = registrar
}

// Refresh releases every current registration, then registers the provider
// again if the formatter is enabled. It is safe to call repeatedly and does
// nothing once the controller is closed.
func (c *Controller) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.closed {
		c.logger.Debug("controller closed, not refreshing")
		return nil
	}

	err := c.release(ctx)

	if !c.enabled() {
		c.logger.Info("formatter disabled, not registering")
		return err
	}

	c.mu.RLock()
	registrar := c.registrar
	c.mu.RUnlock()

	c.logger.Info("registering formatter")
	entries := make([]registration, 0, len(c.selectors))
	for _, selector := range c.selectors {
		entry := registration{selector: selector}
		if registrar != nil {
			handle, regErr := registrar.Register(ctx, selector)
			if regErr != nil {
				c.logger.Warn("client registration failed",
					zap.String("scheme", selector.Scheme), zap.Error(regErr))
				err = multierr.Append(err, regErr)
			} else {
				entry.handle = handle
			}
		}
		entries = append(entries, entry)
	}

	c.mu.Lock()
	for _, entry := range entries {
		c.routes[entry.selector] = c.provider
	}
	c.set = append(c.set, entries...)
	c.mu.Unlock()

	return err
}

// Release drops every registration.
func (c *Controller) Release(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	return c.release(ctx)
}

// Close drops every registration and makes later refreshes no-ops.
func (c *Controller) Close(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.closed = true
	return c.release(ctx)
}

// Lookup returns the provider registered for documents of language under
// scheme.
func (c *Controller) Lookup(scheme string, language string) (formatting.EditsProvider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	provider, ok := c.routes[Selector{Language: language, Scheme: scheme}]
	return provider, ok
}

// Len returns the number of active registrations.
func (c *Controller) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.set)
}

// release empties the set, then releases every detached handle, even after
// a failure. Callers hold refreshMu.
func (c *Controller) release(ctx context.Context) error {
	c.mu.Lock()
	detached := c.set
	c.set = nil
	for _, entry := range detached {
		delete(c.routes, entry.selector)
	}
	c.mu.Unlock()

	var err error
	for _, entry := range detached {
		if entry.handle != nil {
			err = multierr.Append(err, entry.handle.Release(ctx))
		}
	}

	return err
}
