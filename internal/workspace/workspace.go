package workspace

import (
	"path/filepath"
	"strings"
	"sync"
)

// Workspace tracks the filesystem roots the client opened: the root path
// from initialize and the list of workspace folders.
type Workspace struct {
	mu      sync.RWMutex
	root    string
	folders []string
}

func New() *Workspace {
	return &Workspace{}
}

// Reset replaces the root and the folder list. Empty entries are dropped.
func (w *Workspace) Reset(root string, folders []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.root = clean(root)
	w.folders = w.folders[:0]
	for _, folder := range folders {
		if folder = clean(folder); folder != "" && !contains(w.folders, folder) {
			w.folders = append(w.folders, folder)
		}
	}
}

func (w *Workspace) AddFolder(folder string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if folder = clean(folder); folder != "" && !contains(w.folders, folder) {
		w.folders = append(w.folders, folder)
	}
}

func (w *Workspace) RemoveFolder(folder string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	folder = clean(folder)
	for i, f := range w.folders {
		if f == folder {
			w.folders = append(w.folders[:i], w.folders[i+1:]...)
			return
		}
	}
}

// Root returns the workspace root: the initialize root path when known,
// else the first folder, else "".
func (w *Workspace) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.root != "" {
		return w.root
	}
	if len(w.folders) > 0 {
		return w.folders[0]
	}
	return ""
}

// First returns the first workspace folder, falling back to the root.
func (w *Workspace) First() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.folders) > 0 {
		return w.folders[0]
	}
	return w.root
}

func (w *Workspace) Folders() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	folders := make([]string, len(w.folders))
	copy(folders, w.folders)
	return folders
}

// FolderFor returns the innermost workspace folder containing path.
func (w *Workspace) FolderFor(path string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	path = clean(path)
	if path == "" {
		return "", false
	}

	best := ""
	candidates := w.folders
	if len(candidates) == 0 && w.root != "" {
		candidates = []string{w.root}
	}
	for _, folder := range candidates {
		if within(folder, path) && len(folder) > len(best) {
			best = folder
		}
	}

	return best, best != ""
}

func within(folder, path string) bool {
	if folder == path {
		return true
	}
	rel, err := filepath.Rel(folder, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func clean(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
