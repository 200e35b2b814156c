package formatting

import (
	"context"
	"path/filepath"

	"github.com/hongdown/hongdown-ls/internal/config"
	"github.com/hongdown/hongdown-ls/internal/formatter"
	"github.com/hongdown/hongdown-ls/internal/process"
	"github.com/hongdown/hongdown-ls/internal/utils"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// Document is the text of one open document
type Document struct {
	URI  protocol.DocumentURI
	Text string
}

type Outcome uint8

const (
	NoChange Outcome = iota
	Replacement
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "no-change"
	case Replacement:
		return "replacement"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one format call. NewText is set for
// Replacement, Err for Failed.
type Result struct {
	Outcome Outcome
	NewText string
	Err     error
}

// Provider formats whole documents with the external formatter.
type Provider struct {
	settings  Settings
	workspace Workspace
	runner    process.Runner
	notifier  Notifier
	logger    *zap.Logger
}

func NewProvider(settings Settings, workspace Workspace, runner process.Runner, notifier Notifier, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		settings:  settings,
		workspace: workspace,
		runner:    runner,
		notifier:  notifier,
		logger:    logger,
	}
}

// ProvideEdits returns no edits, or a single edit replacing the whole
// document. Formatting options are not used.
func (p *Provider) ProvideEdits(ctx context.Context, doc Document, _ protocol.FormattingOptions) []protocol.TextEdit {
	result := p.Format(ctx, doc)
	if result.Outcome != Replacement {
		return formatter.NoEdits()
	}

	return formatter.Edits(doc.Text, result.NewText)
}

// Format runs the formatter on doc. Failures are reported to the user and
// returned as a Failed result; they never escape as errors.
func (p *Provider) Format(ctx context.Context, doc Document) Result {
	logger := p.logger.With(zap.String("uri", string(doc.URI)))
	logger.Debug("format requested")

	if ctx.Err() != nil {
		logger.Debug("cancellation requested at start")
		return Result{Outcome: NoChange}
	}

	if doc.Text == "" {
		logger.Debug("empty document")
		return Result{Outcome: NoChange}
	}

	workingDir, folder := p.resolveContext(doc.URI)

	snapshot := p.settings.Snapshot(folder)
	if snapshot.Disabled {
		logger.Debug("formatter disabled")
		return Result{Outcome: NoChange}
	}

	logger.Info("formatting")
	if workingDir == "" {
		logger.Debug("no working directory, using home directory", zap.String("execPath", snapshot.ExecutablePath))
	} else {
		logger.Debug("resolved context", zap.String("workingDir", workingDir), zap.String("execPath", snapshot.ExecutablePath))
	}

	formatted, err := p.runner.Run(doc.Text, workingDir, snapshot.ExecutablePath)
	if err != nil {
		logger.Error("formatting failed", zap.Error(err))
		if p.notifier != nil {
			p.notifier.ShowError(context.WithoutCancel(ctx), config.DisplayName+": "+err.Error())
		}
		return Result{Outcome: Failed, Err: err}
	}

	if ctx.Err() != nil {
		logger.Debug("formatting cancelled")
		return Result{Outcome: NoChange}
	}

	if formatted == doc.Text {
		logger.Debug("no changes needed")
		return Result{Outcome: NoChange}
	}

	logger.Info("formatted successfully")

	return Result{Outcome: Replacement, NewText: formatted}
}

// resolveContext picks the working directory for the formatter and the
// workspace folder whose settings apply. File documents use their
// workspace folder, else their own directory. Other documents use the
// first workspace folder, or "" to let the invoker fall back to the home
// directory.
func (p *Provider) resolveContext(uri protocol.DocumentURI) (workingDir string, folder string) {
	if utils.URIScheme(uri) == utils.SchemeFile {
		path := utils.URIToPath(uri)
		if root, ok := p.workspace.FolderFor(path); ok {
			return root, root
		}
		if dir := filepath.Dir(path); path != "" && dir != "." && dir != string(filepath.Separator) {
			return dir, ""
		}
	}

	return p.workspace.First(), ""
}
