package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/initd/pkg/errs"
)

func TestNewWrapsCauseAndReportsKind(t *testing.T) {
	cause := errors.New("boom")
	err := errs.New(errs.KernelAPI, "write cgroup.procs", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, errs.Is(err, errs.KernelAPI))
	assert.False(t, errs.Is(err, errs.Policy))

	kind, ok := errs.Of(err)
	assert.True(t, ok)
	assert.Equal(t, errs.KernelAPI, kind)
}

func TestOfReturnsFalseForPlainError(t *testing.T) {
	_, ok := errs.Of(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsSeesThroughUnwrapWrapper(t *testing.T) {
	base := errs.New(errs.ExternalTool, "criu dump", errors.New("exit status 1"))
	wrapped := errorsWrap(base)
	assert.True(t, errs.Is(wrapped, errs.ExternalTool))
}

func errorsWrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "upgrade: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
