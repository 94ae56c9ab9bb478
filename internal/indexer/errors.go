package indexer

import "errors"

// ErrInvalidInput matches every input/validation error returned to callers.
var ErrInvalidInput = errors.New("invalid input")

// ErrConflict is returned by Start while another run is in progress.
var ErrConflict = errors.New("indexing is already in progress")

// InputError is a caller mistake such as a bad path or a missing index.
type InputError struct {
	msg string
}

func (e *InputError) Error() string { return e.msg }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func inputError(msg string) error { return &InputError{msg: msg} }

var (
	ErrPathRequired     = inputError("repository path is required")
	ErrPathNotFound     = inputError("repository path does not exist")
	ErrNotDirectory     = inputError("repository path must be a directory")
	ErrNoFiles          = inputError("no supported source files found to index")
	ErrQuestionRequired = inputError("question is required")
	ErrNotIndexed       = inputError("repository has not been indexed yet")
	ErrFileRequired     = inputError("file path is required")
	ErrOutsideRoot      = inputError("requested file is outside the indexed repository")
	ErrUnreadable       = inputError("unable to read file")
)
