package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

const (
	DefaultShell = "/bin/bash"

	// Exit statuses POSIX shells use when a command cannot be run.
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Lines an interactive shell prints on stderr when it has no terminal.
var shellNoise = []string{
	"cannot set terminal process group",
	"no job control in this shell",
}

// DefaultShellArgs makes the shell interactive and a login shell so the
// user's profile (PATH additions, version managers) is loaded.
var DefaultShellArgs = []string{"-l", "-i", "-c"}

// Runner runs the external formatter on a document.
type Runner interface {
	Run(content string, workingDirectory string, executablePath string) (string, error)
}

// SpawnError means the formatter could not be started at all.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf(
		"Failed to start %s: %v. Make sure %s is installed and available in PATH, or set hongdown.path in your editor settings.",
		e.Executable, e.Err, e.Executable,
	)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExitError means the formatter ran and exited with a non-zero status.
type ExitError struct {
	Executable string
	Code       int
	Stderr     string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("%s exited with code %d", e.Executable, e.Code)
}

// Invoker runs the formatter through the user's shell. The call blocks until
// the child exits; it has no timeout and cannot be interrupted.
type Invoker struct {
	// Shell defaults to $SHELL, then DefaultShell.
	Shell string
	// ShellArgs precede the command line; defaults to DefaultShellArgs.
	ShellArgs []string
	// HomeDir resolves the fallback working directory.
	HomeDir func() (string, error)

	logger *zap.Logger
}

func NewInvoker(logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Invoker{
		HomeDir: homedir.Dir,
		logger:  logger,
	}
}

// Run feeds content to "<executablePath> --stdin" and returns its standard
// output verbatim.
func (i *Invoker) Run(content string, workingDirectory string, executablePath string) (string, error) {
	cmd := i.Command(workingDirectory, executablePath)
	cmd.Stdin = strings.NewReader(content)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	i.logger.Debug("running formatter",
		zap.String("shell", cmd.Path),
		zap.Strings("args", cmd.Args[1:]),
		zap.String("dir", cmd.Dir),
	)

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	name := executableName(executablePath)

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return "", &SpawnError{Executable: name, Err: err}
	}

	code := exitErr.ExitCode()
	message := cleanStderr(stderr.String())
	if code == exitNotFound || code == exitNotExecutable {
		if message == "" {
			message = fmt.Sprintf("command exited with code %d", code)
		}
		return "", &SpawnError{Executable: name, Err: errors.New(message)}
	}

	return "", &ExitError{Executable: name, Code: code, Stderr: message}
}

// Command builds the shell invocation without starting it.
func (i *Invoker) Command(workingDirectory string, executablePath string) *exec.Cmd {
	args := append(append([]string{}, i.shellArgs()...), executablePath+" --stdin")

	cmd := exec.Command(i.shell(), args...)
	cmd.Dir = i.workingDirectory(workingDirectory)

	return cmd
}

func (i *Invoker) shell() string {
	if i.Shell != "" {
		return i.Shell
	}
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return DefaultShell
}

func (i *Invoker) shellArgs() []string {
	if i.ShellArgs != nil {
		return i.ShellArgs
	}
	if runtime.GOOS == "windows" {
		return []string{"/C"}
	}
	return DefaultShellArgs
}

// workingDirectory falls back to the home directory for documents with no
// usable location on disk.
func (i *Invoker) workingDirectory(dir string) string {
	if dir != "" && filepath.IsAbs(dir) {
		return dir
	}

	homeDir := i.HomeDir
	if homeDir == nil {
		homeDir = homedir.Dir
	}
	home, err := homeDir()
	if err != nil {
		i.logger.Warn("no home directory, using the current directory", zap.Error(err))
		return ""
	}

	return home
}

func executableName(executablePath string) string {
	fields := strings.Fields(executablePath)
	if len(fields) == 0 {
		return "hongdown"
	}
	return filepath.Base(fields[0])
}

// cleanStderr drops the job-control warnings of an interactive shell started
// without a terminal and trims what is left.
func cleanStderr(stderr string) string {
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isShellNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isShellNoise(line string) bool {
	for _, noise := range shellNoise {
		if strings.Contains(line, noise) {
			return true
		}
	}
	return false
}
