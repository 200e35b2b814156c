package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hongdown/hongdown-ls/internal/config"
	"github.com/hongdown/hongdown-ls/internal/formatter"
	"github.com/hongdown/hongdown-ls/internal/formatting"
	"github.com/hongdown/hongdown-ls/internal/logging"
	"github.com/hongdown/hongdown-ls/internal/process"
	"github.com/hongdown/hongdown-ls/internal/registry"
	"github.com/hongdown/hongdown-ls/internal/utils"
	"github.com/hongdown/hongdown-ls/internal/workspace"
	"github.com/tidwall/gjson"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// Options tunes a Server. The zero value runs hongdown through the user's
// shell and reads no user config file.
type Options struct {
	// Runner replaces the shell invoker.
	Runner process.Runner
	// UserConfigPath is the global-scope settings file.
	UserConfigPath string
	// WatchConfig enables the fsnotify watcher on config files.
	WatchConfig bool
}

type document struct {
	text     string
	language string
}

// Server represents the Language Server Protocol (LSP) server
type Server struct {
	conn   jsonrpc2.Conn
	base   *zap.Logger
	logger *zap.Logger

	options Options

	// Set at initialize when the client registers formatting itself
	dynamicRegistration bool

	workspace *workspace.Workspace
	settings  *config.Store
	provider  *formatting.Provider
	registry  *registry.Controller

	watchMu sync.Mutex
	watcher *config.Watcher

	// Lifetime of background work such as the config watcher
	ctx    context.Context
	cancel context.CancelFunc

	// Set once shutdown is received; refreshes are skipped afterwards
	shutdown atomic.Bool

	// In-memory document cache for synchronized content
	docMu     sync.RWMutex
	documents map[protocol.DocumentURI]document

	// Cancel functions of in-flight formatting requests, by request ID
	reqMu    sync.Mutex
	inflight map[string]context.CancelFunc
}

// New creates a new LSP server instance
func New(conn jsonrpc2.Conn, logger *zap.Logger, options Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		conn:      conn,
		base:      logger,
		logger:    logger.Named(logging.Server),
		options:   options,
		workspace: workspace.New(),
		ctx:       ctx,
		cancel:    cancel,
		documents: make(map[protocol.DocumentURI]document),
		inflight:  make(map[string]context.CancelFunc),
	}

	runner := options.Runner
	if runner == nil {
		runner = process.NewInvoker(logger.Named(logging.Process))
	}

	s.settings = config.NewStore(s.workspace, options.UserConfigPath, logger.Named(logging.Config))
	s.provider = formatting.NewProvider(s.settings, s.workspace, runner, s, logger.Named(logging.Formatter))
	s.registry = registry.New(s.settings.IsFormatterEnabled, s.provider, nil, registry.DefaultSelectors, logger.Named(logging.Registry))

	return s
}

func (s *Server) Handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.logger.Debug("received request", zap.String("method", req.Method()))

	switch req.Method() {
	case protocol.MethodInitialize:
		return s.handleInitialize(ctx, reply, req)
	case protocol.MethodInitialized:
		return s.handleInitialized(ctx, reply, req)
	case protocol.MethodWorkspaceExecuteCommand:
		return s.handleExecuteCommand(ctx, reply, req)
	case protocol.MethodTextDocumentDidOpen:
		return s.handleDidOpen(ctx, reply, req)
	case protocol.MethodTextDocumentDidChange:
		return s.handleDidChange(ctx, reply, req)
	case protocol.MethodTextDocumentDidClose:
		return s.handleDidClose(ctx, reply, req)
	case protocol.MethodTextDocumentDidSave:
		return s.handleDidSave(ctx, reply, req)
	case protocol.MethodTextDocumentFormatting:
		return s.handleDocumentFormatting(ctx, reply, req)
	case protocol.MethodWorkspaceDidChangeConfiguration:
		return s.handleDidChangeConfiguration(ctx, reply, req)
	case protocol.MethodWorkspaceDidChangeWorkspaceFolders:
		return s.handleDidChangeWorkspaceFolders(ctx, reply, req)
	case protocol.MethodWorkspaceDidChangeWatchedFiles:
		return s.handleDidChangeWatchedFiles(ctx, reply, req)
	case protocol.MethodShutdown:
		return s.handleShutdown(ctx, reply, req)
	case protocol.MethodExit:
		return s.handleExit(ctx, reply, req)
	case protocol.MethodCancelRequest:
		return s.handleCancelRequest(ctx, reply, req)
	default:
		s.logger.Debug("unhandled method", zap.String("method", req.Method()))
		return reply(ctx, nil, nil)
	}
}

func (s *Server) handleInitialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.logger.Info("handling initialize request")

	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling initialize params", zap.Error(err))

		return err
	}

	if params.ClientInfo != nil {
		s.logger.Info("client info", zap.String("name", params.ClientInfo.Name), zap.String("version", params.ClientInfo.Version))
	}

	root := ""
	if params.RootURI != "" {
		root = utils.URIToPath(params.RootURI)
	}
	var folders []string
	for _, folder := range params.WorkspaceFolders {
		if path := utils.URIToPath(protocol.DocumentURI(folder.URI)); path != "" {
			folders = append(folders, path)
		}
	}
	s.workspace.Reset(root, folders)

	if options := gjson.GetBytes(req.Params(), "initializationOptions"); options.IsObject() {
		s.settings.SetClientSettings(json.RawMessage(options.Raw))
	}

	dynamic := gjson.GetBytes(req.Params(), "capabilities.textDocument.formatting.dynamicRegistration").Bool()
	if dynamic {
		s.registry.SetRegistrar(registry.NewClientRegistrar(s.conn))
	}
	s.dynamicRegistration = dynamic
	s.logger.Debug("workspace resolved",
		zap.String("root", s.workspace.Root()),
		zap.Strings("folders", s.workspace.Folders()),
		zap.Bool("dynamicRegistration", dynamic),
	)

	resp := protocol.InitializeResult{
		Capabilities: serverCapabilities(!dynamic),
		ServerInfo:   serverInfo(),
	}

	return reply(ctx, resp, nil)
}

func (s *Server) handleInitialized(ctx context.Context, reply jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info("client initialized successfully")

	if s.options.WatchConfig {
		s.startWatcher()
	}
	s.scheduleRefresh("initialized")

	return reply(ctx, nil, nil)
}

func (s *Server) handleExecuteCommand(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.ExecuteCommandParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling executeCommand params", zap.Error(err))
		return err
	}

	s.logger.Info("executing command", zap.String("command", params.Command))

	switch params.Command {
	case getFullLspCommandName(LspCommandNameShowConfig):
		return s.handleShowConfigCommand(ctx, reply)

	default:
		return reply(ctx, nil, fmt.Errorf("unknown command: %s", params.Command))
	}
}

type configReport struct {
	Snapshot      config.Snapshot   `json:"snapshot"`
	Scopes        config.Inspection `json:"scopes"`
	Registrations int               `json:"registrations"`
}

func (s *Server) handleShowConfigCommand(ctx context.Context, reply jsonrpc2.Replier) error {
	folder := s.workspace.First()
	report := configReport{
		Snapshot:      s.settings.Snapshot(folder),
		Scopes:        s.settings.Inspect(folder),
		Registrations: s.registry.Len(),
	}

	data, err := json.Marshal(report)
	if err != nil {
		return reply(ctx, nil, err)
	}
	s.showWindowMessage(ctx, protocol.MessageTypeInfo, fmt.Sprintf("Current configuration: %s", data))

	return reply(ctx, report, nil)
}

func (s *Server) handleDidOpen(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))

		return err
	}

	s.setDocument(params.TextDocument.URI, document{
		text:     params.TextDocument.Text,
		language: string(params.TextDocument.LanguageID),
	})

	return nil
}

func (s *Server) handleDidChange(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))

		return err
	}

	if len(params.ContentChanges) > 0 {
		lastChange := params.ContentChanges[len(params.ContentChanges)-1]
		s.setDocumentText(params.TextDocument.URI, lastChange.Text)
	}

	return nil
}

func (s *Server) handleDidSave(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidSaveTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))

		return err
	}

	if params.Text != "" {
		s.setDocumentText(params.TextDocument.URI, params.Text)
	}

	return nil
}

func (s *Server) handleDidClose(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))

		return err
	}

	s.deleteDocument(params.TextDocument.URI)

	return nil
}

func (s *Server) handleDidChangeConfiguration(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var raw json.RawMessage
	if settings := gjson.GetBytes(req.Params(), "settings"); settings.Exists() {
		raw = json.RawMessage(settings.Raw)
	}

	if s.settings.SetClientSettings(raw) {
		s.logger.Info("setting changed, re-registering formatter", zap.String("setting", config.Section+"."+config.SettingDisable))
		s.scheduleRefresh("configuration changed")
	}

	return nil
}

func (s *Server) handleDidChangeWorkspaceFolders(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	params := req.Params()

	for _, u := range gjson.GetBytes(params, "event.removed.#.uri").Array() {
		s.workspace.RemoveFolder(utils.URIToPath(protocol.DocumentURI(u.String())))
	}
	for _, u := range gjson.GetBytes(params, "event.added.#.uri").Array() {
		s.workspace.AddFolder(utils.URIToPath(protocol.DocumentURI(u.String())))
	}

	s.syncWatcher()
	s.scheduleRefresh("workspace folders changed")

	return nil
}

func (s *Server) handleDidChangeWatchedFiles(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeWatchedFilesParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))

		return err
	}

	for _, change := range params.Changes {
		if s.settings.IsConfigFile(utils.URIToPath(protocol.DocumentURI(change.URI))) {
			s.scheduleRefresh("config file changed")
			break
		}
	}

	return nil
}

func (s *Server) handleShutdown(ctx context.Context, reply jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info("performing cleanup before shutdown")

	s.shutdown.Store(true)
	s.stopWatcher()

	// Releasing client registrations needs responses from the client, which
	// are read by the loop this handler runs on.
	go func() {
		if err := s.registry.Close(ctx); err != nil {
			s.logger.Warn("failed to release formatter registrations", zap.Error(err))
		}
		s.cancel()
		_ = reply(ctx, nil, nil)
	}()

	return nil
}

func (s *Server) handleExit(_ context.Context, _ jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info("exiting server")

	s.shutdown.Store(true)
	s.cancel()
	s.stopWatcher()

	return s.conn.Close()
}

func (s *Server) handleCancelRequest(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling cancel request params", zap.Error(err))
		return err
	}

	key := string(bytes.TrimSpace(params.ID))
	s.logger.Debug("client requested cancellation", zap.String("id", key))

	s.reqMu.Lock()
	cancel, ok := s.inflight[key]
	s.reqMu.Unlock()
	if ok {
		cancel()
	}

	return reply(ctx, nil, nil)
}

func (s *Server) handleDocumentFormatting(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DocumentFormattingParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling document formatting params", zap.Error(err))
		return err
	}

	// Run off the read loop so $/cancelRequest can reach the request.
	formatCtx, done := s.trackRequest(ctx, req)
	go func() {
		defer done()

		edits := s.formatDocument(formatCtx, params)
		if err := reply(ctx, edits, nil); err != nil {
			s.logger.Warn("failed to reply to formatting request", zap.Error(err))
		}
	}()

	return nil
}

// formatDocument never fails: anything that prevents formatting yields an
// empty edit list.
func (s *Server) formatDocument(ctx context.Context, params protocol.DocumentFormattingParams) []protocol.TextEdit {
	uri := params.TextDocument.URI
	scheme := utils.URIScheme(uri)

	doc, ok := s.getDocument(uri)
	if !ok {
		filePath := utils.URIToPath(uri)
		if filePath == "" {
			s.logger.Debug("document is not open", zap.String("uri", string(uri)))
			return formatter.NoEdits()
		}

		fileContent, err := os.ReadFile(filePath)
		if err != nil {
			s.logger.Warn("failed to read file", zap.String("path", filePath), zap.Error(err))
			return formatter.NoEdits()
		}
		doc = document{text: string(fileContent)}
	}
	if doc.language == "" {
		doc.language = utils.LanguageForPath(utils.URIToPath(uri))
	}

	provider, ok := s.registry.Lookup(scheme, doc.language)
	if !ok {
		s.logger.Debug("no formatter registered",
			zap.String("uri", string(uri)),
			zap.String("scheme", scheme),
			zap.String("language", doc.language),
		)
		return formatter.NoEdits()
	}

	return provider.ProvideEdits(ctx, formatting.Document{URI: uri, Text: doc.text}, params.Options)
}

// ShowError shows message as an error notification in the client.
func (s *Server) ShowError(ctx context.Context, message string) {
	s.showWindowMessage(ctx, protocol.MessageTypeError, message)
}

func (s *Server) showWindowMessage(ctx context.Context, messageType protocol.MessageType, message string) {
	params := &protocol.ShowMessageParams{Type: messageType, Message: message}
	if err := s.conn.Notify(ctx, protocol.MethodWindowShowMessage, params); err != nil {
		s.logger.Warn("failed to send window message", zap.Error(err))
	}
}

// scheduleRefresh refreshes the registrations from a handler. Client-side
// registration waits for client responses, which only the read loop can
// deliver, so it runs on its own goroutine.
func (s *Server) scheduleRefresh(reason string) {
	if s.dynamicRegistration {
		go s.refreshRegistration(s.ctx, reason)
		return
	}
	s.refreshRegistration(s.ctx, reason)
}

func (s *Server) refreshRegistration(ctx context.Context, reason string) {
	if s.shutdown.Load() {
		s.logger.Debug("shutting down, skipping registration refresh", zap.String("reason", reason))
		return
	}

	s.logger.Debug("refreshing formatter registration", zap.String("reason", reason))

	if err := s.registry.Refresh(ctx); err != nil {
		s.logger.Warn("formatter registration incomplete", zap.Error(err))
	}
}

// trackRequest derives a context cancelled by $/cancelRequest for req.
func (s *Server) trackRequest(ctx context.Context, req jsonrpc2.Request) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	key := requestKey(req)
	if key == "" {
		return ctx, cancel
	}

	s.reqMu.Lock()
	s.inflight[key] = cancel
	s.reqMu.Unlock()

	return ctx, func() {
		s.reqMu.Lock()
		delete(s.inflight, key)
		s.reqMu.Unlock()
		cancel()
	}
}

// requestKey returns the JSON encoding of the request ID, the form the ID
// takes in $/cancelRequest params.
func requestKey(req jsonrpc2.Request) string {
	call, ok := req.(*jsonrpc2.Call)
	if !ok {
		return ""
	}

	id := call.ID()
	data, err := json.Marshal(&id)
	if err != nil {
		return ""
	}

	return string(data)
}

func (s *Server) startWatcher() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher != nil {
		return
	}

	// The callback must not wait on the client: stopWatcher waits for the
	// watcher goroutine from the read loop.
	watcher, err := config.NewWatcher(s.ctx, s.settings, func(string) {
		s.scheduleRefresh("config file changed")
	}, s.base.Named(logging.Config))
	if err != nil {
		s.logger.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	s.watcher = watcher
}

func (s *Server) syncWatcher() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher != nil {
		s.watcher.Sync()
	}
}

func (s *Server) stopWatcher() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
}

func (s *Server) setDocument(uri protocol.DocumentURI, doc document) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	s.documents[uri] = doc
}

func (s *Server) setDocumentText(uri protocol.DocumentURI, text string) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	doc := s.documents[uri]
	doc.text = text
	s.documents[uri] = doc
}

func (s *Server) getDocument(uri protocol.DocumentURI) (document, bool) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	doc, exists := s.documents[uri]
	return doc, exists
}

func (s *Server) deleteDocument(uri protocol.DocumentURI) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	delete(s.documents, uri)
}
