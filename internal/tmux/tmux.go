// Package tmux adapts the external terminal multiplexer. The hive treats it
// as a service exposing "send text to pane P of session S" plus session
// lifecycle; everything here shells out to the tmux binary.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"go.uber.org/zap"

	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/common/logger"
)

// pasteThreshold switches SendText from send-keys to a buffer paste. Long
// payloads (multi-kilobyte role documents) exceed argv comfort; paste-buffer
// delivers them as one submission.
const pasteThreshold = 1024

// Runner executes a tmux invocation. Tests substitute a recorder.
type Runner interface {
	Run(ctx context.Context, stdin []byte, args ...string) (stdout []byte, stderr []byte, err error)
}

// ExecRunner runs the real tmux binary.
type ExecRunner struct{}

// Run implements Runner via os/exec.
func (ExecRunner) Run(ctx context.Context, stdin []byte, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// Client wraps tmux operations against one session.
type Client struct {
	session string
	runner  Runner
	logger  *logger.Logger
}

// NewClient creates a tmux client for the named session.
func NewClient(session string, runner Runner, log *logger.Logger) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{
		session: session,
		runner:  runner,
		logger:  log.WithFields(zap.String("component", "tmux"), zap.String("session", session)),
	}
}

// Session returns the session name the client targets.
func (c *Client) Session() string { return c.session }

// HasSession reports whether the session exists.
func (c *Client) HasSession(ctx context.Context) (bool, error) {
	_, stderr, err := c.runner.Run(ctx, nil, "has-session", "-t", c.session)
	if err == nil {
		return true, nil
	}
	if isMissingSession(stderr) {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, apperrors.Cancelled(ctx.Err())
	}
	return false, apperrors.Transport("tmux has-session failed", fmt.Errorf("%v: %s", err, stderr))
}

// NewSession creates the detached session with an initial window.
func (c *Client) NewSession(ctx context.Context, firstWindow string) error {
	_, stderr, err := c.runner.Run(ctx, nil,
		"new-session", "-d", "-s", c.session, "-n", firstWindow)
	if err != nil {
		return c.classify("new-session", stderr, err)
	}
	return nil
}

// NewWindow adds a named window running the given command.
func (c *Client) NewWindow(ctx context.Context, name, command string) error {
	args := []string{"new-window", "-t", c.session, "-n", name}
	if command != "" {
		args = append(args, command)
	}
	_, stderr, err := c.runner.Run(ctx, nil, args...)
	if err != nil {
		return c.classify("new-window", stderr, err)
	}
	return nil
}

// RespawnPane restarts the command inside a pane.
func (c *Client) RespawnPane(ctx context.Context, pane, command string) error {
	args := []string{"respawn-pane", "-k", "-t", pane}
	if command != "" {
		args = append(args, command)
	}
	_, stderr, err := c.runner.Run(ctx, nil, args...)
	if err != nil {
		return c.classify("respawn-pane", stderr, err)
	}
	return nil
}

// SendText delivers payload to a pane as one submitted line: the text
// followed by Enter. Short payloads go through send-keys literally; long
// ones are pasted from a tmux buffer so the hosted process sees a single
// unified input.
func (c *Client) SendText(ctx context.Context, pane, payload string) error {
	if len(payload) >= pasteThreshold {
		if _, stderr, err := c.runner.Run(ctx, []byte(payload), "load-buffer", "-b", "hive-inject", "-"); err != nil {
			return c.classify("load-buffer", stderr, err)
		}
		if _, stderr, err := c.runner.Run(ctx, nil, "paste-buffer", "-d", "-p", "-b", "hive-inject", "-t", pane); err != nil {
			return c.classify("paste-buffer", stderr, err)
		}
	} else {
		if _, stderr, err := c.runner.Run(ctx, nil, "send-keys", "-t", pane, "-l", payload); err != nil {
			return c.classify("send-keys", stderr, err)
		}
	}
	if _, stderr, err := c.runner.Run(ctx, nil, "send-keys", "-t", pane, "Enter"); err != nil {
		return c.classify("send-keys", stderr, err)
	}
	return nil
}

// CapturePane returns the last lines of a pane's visible history.
func (c *Client) CapturePane(ctx context.Context, pane string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", pane}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	stdout, stderr, err := c.runner.Run(ctx, nil, args...)
	if err != nil {
		return "", c.classify("capture-pane", stderr, err)
	}
	return string(stdout), nil
}

// KillSession tears the session down. Missing sessions are not an error so
// shutdown stays idempotent.
func (c *Client) KillSession(ctx context.Context) error {
	_, stderr, err := c.runner.Run(ctx, nil, "kill-session", "-t", c.session)
	if err != nil && !isMissingSession(stderr) {
		return c.classify("kill-session", stderr, err)
	}
	return nil
}

// Attach replaces the current process image with tmux attach. Only called
// from the CLI's attach command.
func (c *Client) Attach() error {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return apperrors.Transport("tmux not found in PATH", err)
	}
	return syscall.Exec(path, []string{"tmux", "attach", "-t", c.session}, os.Environ())
}

// classify partitions tmux failures for the injector's outcome log.
func (c *Client) classify(op string, stderr []byte, err error) error {
	msg := strings.TrimSpace(string(stderr))
	c.logger.Warn("tmux command failed",
		zap.String("op", op), zap.String("stderr", msg), zap.Error(err))
	switch {
	case isMissingSession(stderr):
		return apperrors.Transport("session not found", fmt.Errorf("%s: %s", op, msg))
	case isMissingPane(stderr):
		return apperrors.Transport("pane not found", fmt.Errorf("%s: %s", op, msg))
	default:
		return apperrors.Transport("tmux "+op+" failed", fmt.Errorf("%v: %s", err, msg))
	}
}

func isMissingSession(stderr []byte) bool {
	s := string(stderr)
	return strings.Contains(s, "can't find session") ||
		strings.Contains(s, "session not found") ||
		strings.Contains(s, "no server running")
}

func isMissingPane(stderr []byte) bool {
	s := string(stderr)
	return strings.Contains(s, "can't find pane") ||
		strings.Contains(s, "can't find window") ||
		strings.Contains(s, "window not found")
}

// Outcome maps a transport error onto the injection log vocabulary.
func Outcome(err error) string {
	if err == nil {
		return "delivered"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "pane not found"):
		return "pane_not_found"
	case strings.Contains(msg, "session not found"):
		return "session_not_found"
	case apperrors.IsCode(err, apperrors.CodeCancelled):
		return "cancelled"
	default:
		return "transport_error"
	}
}
