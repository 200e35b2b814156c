package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/hongdown/hongdown-ls/internal/workspace"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	Name        string = "hongdown-ls"
	DisplayName string = "Hongdown"
	Version     string = "0.1.0"

	// Section is the settings namespace clients push settings under.
	Section string = "hongdown"

	ConfigFileName     string = ".hongdown-ls.yaml"
	UserConfigFileName string = "config.yaml"

	DefaultExecutable string = "hongdown"

	SettingDisable string = "disable"
	SettingPath    string = "path"
)

// Scope is a configuration override level.
type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopeWorkspace
	ScopeWorkspaceFolder
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeWorkspace:
		return "workspace"
	case ScopeWorkspaceFolder:
		return "workspaceFolder"
	default:
		return "unknown"
	}
}

// Values holds the settings defined at one scope. A nil Disable means the
// scope does not set it.
type Values struct {
	Disable *bool  `yaml:"disable" json:"disable,omitempty"`
	Path    string `yaml:"path" json:"path,omitempty"`
}

func (v Values) disabled() bool {
	return v.Disable != nil && *v.Disable
}

// Inspection lists the values of every scope for one workspace folder.
type Inspection struct {
	Global          Values `json:"global"`
	Workspace       Values `json:"workspace"`
	WorkspaceFolder Values `json:"workspaceFolder"`
}

func (i Inspection) At(scope Scope) Values {
	switch scope {
	case ScopeWorkspace:
		return i.Workspace
	case ScopeWorkspaceFolder:
		return i.WorkspaceFolder
	default:
		return i.Global
	}
}

// Snapshot is the resolved configuration for one formatting attempt.
type Snapshot struct {
	Disabled       bool   `json:"disabled"`
	ExecutablePath string `json:"executablePath"`
}

// Store resolves settings from the client payload and the config files.
// Files are read on every call; only the client payload is kept.
type Store struct {
	mu     sync.RWMutex
	client json.RawMessage

	userConfigPath string
	workspace      *workspace.Workspace
	logger         *zap.Logger
}

func NewStore(ws *workspace.Workspace, userConfigPath string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		userConfigPath: userConfigPath,
		workspace:      ws,
		logger:         logger,
	}
}

// UserConfigPath returns the per-user config file location under the XDG
// config home, or "" when it cannot be determined.
func UserConfigPath() string {
	if xdg.ConfigHome == "" {
		return ""
	}
	return filepath.Join(xdg.ConfigHome, Name, UserConfigFileName)
}

func (s *Store) UserConfigFile() string {
	return s.userConfigPath
}

// SetClientSettings stores the settings payload pushed by the client and
// reports whether the disable key appears in either the old or the new one.
func (s *Store) SetClientSettings(raw json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := hasSetting(s.client, SettingDisable) || hasSetting(raw, SettingDisable)
	s.client = append(json.RawMessage(nil), raw...)

	return touched
}

// Inspect returns the per-scope values that apply to documents in folder.
// An empty folder leaves the workspace-folder scope unset.
func (s *Store) Inspect(folder string) Inspection {
	return Inspection{
		Global:          s.global(),
		Workspace:       s.load(s.workspaceFile()),
		WorkspaceFolder: s.load(folderFile(folder)),
	}
}

// IsFormatterEnabled reports false when disable is true at any scope,
// including any one of the workspace folders.
func (s *Store) IsFormatterEnabled() bool {
	if s.global().disabled() {
		s.logger.Debug("formatter disabled", zap.Stringer("scope", ScopeGlobal))
		return false
	}
	if s.load(s.workspaceFile()).disabled() {
		s.logger.Debug("formatter disabled", zap.Stringer("scope", ScopeWorkspace))
		return false
	}
	if s.workspace != nil {
		for _, folder := range s.workspace.Folders() {
			if s.load(folderFile(folder)).disabled() {
				s.logger.Debug("formatter disabled", zap.Stringer("scope", ScopeWorkspaceFolder), zap.String("folder", folder))
				return false
			}
		}
	}

	return true
}

// ExecutablePath returns the most specific non-empty path setting, or the
// default executable name.
func (s *Store) ExecutablePath(folder string) string {
	return resolvePath(s.Inspect(folder))
}

func (s *Store) Snapshot(folder string) Snapshot {
	return Snapshot{
		Disabled:       !s.IsFormatterEnabled(),
		ExecutablePath: s.ExecutablePath(folder),
	}
}

// ConfigDirs lists the directories whose config files feed the store.
func (s *Store) ConfigDirs() []string {
	var dirs []string
	add := func(dir string) {
		if dir == "" {
			return
		}
		for _, d := range dirs {
			if d == dir {
				return
			}
		}
		dirs = append(dirs, dir)
	}

	if s.userConfigPath != "" {
		add(filepath.Dir(s.userConfigPath))
	}
	if s.workspace != nil {
		add(s.workspace.Root())
		for _, folder := range s.workspace.Folders() {
			add(folder)
		}
	}

	return dirs
}

// IsConfigFile reports whether path is one of the files the store reads.
func (s *Store) IsConfigFile(path string) bool {
	if path == "" {
		return false
	}
	path = filepath.Clean(path)
	if s.userConfigPath != "" && path == filepath.Clean(s.userConfigPath) {
		return true
	}
	return filepath.Base(path) == ConfigFileName
}

func (s *Store) global() Values {
	values := s.load(s.userConfigPath)

	s.mu.RLock()
	client := clientValues(s.client)
	s.mu.RUnlock()

	if client.Disable != nil {
		// Both sources are global; a true in either one wins.
		disabled := client.disabled() || values.disabled()
		values.Disable = &disabled
	}
	if client.Path != "" {
		values.Path = client.Path
	}

	return values
}

func (s *Store) workspaceFile() string {
	if s.workspace == nil {
		return ""
	}
	return folderFile(s.workspace.Root())
}

func (s *Store) load(path string) Values {
	values, err := LoadFile(path)
	if err != nil {
		s.logger.Warn("ignoring config file", zap.String("path", path), zap.Error(err))
		return Values{}
	}
	return values
}

// LoadFile reads a YAML (or JSON) settings file. A missing file yields
// empty values and no error.
func LoadFile(path string) (Values, error) {
	var values Values
	if path == "" {
		return values, nil
	}

	rawData, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return values, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(rawData, &values); err != nil {
		return Values{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return values, nil
}

func folderFile(folder string) string {
	if folder == "" {
		return ""
	}
	return filepath.Join(folder, ConfigFileName)
}

func resolvePath(inspection Inspection) string {
	for _, scope := range []Scope{ScopeWorkspaceFolder, ScopeWorkspace, ScopeGlobal} {
		if path := inspection.At(scope).Path; path != "" {
			return path
		}
	}
	return DefaultExecutable
}

// settingPaths returns the gjson paths a setting may live at: nested under
// the section object, or as a flat dotted key.
func settingPaths(setting string) []string {
	return []string{
		Section + "." + setting,
		Section + `\.` + setting,
	}
}

func lookup(raw json.RawMessage, setting string) gjson.Result {
	if len(raw) == 0 {
		return gjson.Result{}
	}
	for _, path := range settingPaths(setting) {
		if result := gjson.GetBytes(raw, path); result.Exists() {
			return result
		}
	}
	return gjson.Result{}
}

func hasSetting(raw json.RawMessage, setting string) bool {
	return lookup(raw, setting).Exists()
}

func clientValues(raw json.RawMessage) Values {
	var values Values

	if disable := lookup(raw, SettingDisable); disable.Type == gjson.True || disable.Type == gjson.False {
		b := disable.Bool()
		values.Disable = &b
	}
	if path := lookup(raw, SettingPath); path.Type == gjson.String {
		values.Path = path.String()
	}

	return values
}
