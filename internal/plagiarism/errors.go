package plagiarism

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput         = errors.New("code cannot be empty")
	ErrDecomposition      = errors.New("decomposition failed")
	ErrRetrievalTransport = errors.New("code search unavailable")
	ErrOracleTransport    = errors.New("similarity oracle unavailable")
	ErrOracleFormat       = errors.New("similarity oracle returned malformed output")
)

// ParseError reports source text that is not valid in the expected grammar.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid Python code: %s at line %d, column %d", e.Message, e.Line, e.Column)
}

func (e *ParseError) Unwrap() error { return ErrDecomposition }

// StageError carries the stage that aborted a run together with its cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
