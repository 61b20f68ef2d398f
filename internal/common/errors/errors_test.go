package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeValidation, CodeOf(Validation("bad input")))
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("task", "t1")))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))

	wrapped := fmt.Errorf("context: %w", Conflict("raced"))
	assert.Equal(t, CodeStateConflict, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeStateConflict))
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCodeOf(nil))
	assert.Equal(t, ExitGeneric, ExitCodeOf(fmt.Errorf("boom")))
	assert.Equal(t, ExitPrecondition, ExitCodeOf(Precondition("already running")))
	assert.Equal(t, ExitPrecondition, ExitCodeOf(Validation("bad flag")))
	assert.Equal(t, ExitPrecondition, ExitCodeOf(AlreadyAssigned("t1", "developer")))
	assert.Equal(t, ExitExternal, ExitCodeOf(Transport("tmux gone", nil)))
	assert.Equal(t, ExitExternal, ExitCodeOf(Transient("db locked", nil)))
	assert.Equal(t, ExitInjectionAck, ExitCodeOf(AckTimeout("developer")))
	assert.Equal(t, ExitGeneric, ExitCodeOf(Internal("unexpected", nil)))
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Transport("delivery failed", cause)
	assert.ErrorIs(t, err, cause)

	var appErr *AppError
	assert.True(t, As(fmt.Errorf("wrap: %w", err), &appErr))
	assert.Equal(t, CodeTransport, appErr.Code)
}

func TestMessages(t *testing.T) {
	assert.Contains(t, DependencyUnmet("t1", []string{"t2", "t3"}).Error(), "t2")
	assert.Contains(t, Cyclic("a", "b").Error(), "a -> b")
	assert.Contains(t, NoOpTransition("t1", "pending").Error(), "already pending")
}
