// Package reederr defines the single error taxonomy that surfaces across
// the ReedBase façade. Every internal failure maps to exactly one Kind.
package reederr

import "fmt"

// Kind enumerates the error classes documented in the storage core's
// error handling design.
type Kind int

const (
	KindUnknown Kind = iota
	KindTableNotFound
	KindTableExists
	KindInvalidCSV
	KindDeltaCorrupted
	KindDeltaGenerationFailed
	KindDeltaApplicationFailed
	KindCompressionFailed
	KindDecompressionFailed
	KindUnknownActionCode
	KindUnknownUserCode
	KindUnknownAction
	KindDictionaryCorrupted
	KindDuplicateCode
	KindLockTimeout
	KindQueueFull
	KindConflictDetected
	KindFrameAlreadyActive
	KindFrameNotFound
	KindNoFrameBeforeTimestamp
	KindFrameSnapshotCorrupted
	KindValidationError
	KindInvalidKey
	KindParseError
	KindVersionNotFound
	KindVersionIndexCorrupted
	KindVersionLogRead
	KindIndexBackendUnknown
	KindIndexOperationUnsupported
	KindIndexConfigInvalid
	KindIO
	KindDivisionByZero
	KindEmptySet
)

var kindNames = map[Kind]string{
	KindUnknown:                    "Unknown",
	KindTableNotFound:              "TableNotFound",
	KindTableExists:                "TableExists",
	KindInvalidCSV:                 "InvalidCsv",
	KindDeltaCorrupted:             "DeltaCorrupted",
	KindDeltaGenerationFailed:      "DeltaGenerationFailed",
	KindDeltaApplicationFailed:     "DeltaApplicationFailed",
	KindCompressionFailed:          "CompressionFailed",
	KindDecompressionFailed:        "DecompressionFailed",
	KindUnknownActionCode:          "UnknownActionCode",
	KindUnknownUserCode:            "UnknownUserCode",
	KindUnknownAction:              "UnknownAction",
	KindDictionaryCorrupted:        "DictionaryCorrupted",
	KindDuplicateCode:              "DuplicateCode",
	KindLockTimeout:                "LockTimeout",
	KindQueueFull:                  "QueueFull",
	KindConflictDetected:           "ConflictDetected",
	KindFrameAlreadyActive:         "FrameAlreadyActive",
	KindFrameNotFound:              "FrameNotFound",
	KindNoFrameBeforeTimestamp:     "NoFrameBeforeTimestamp",
	KindFrameSnapshotCorrupted:     "FrameSnapshotCorrupted",
	KindValidationError:            "ValidationError",
	KindInvalidKey:                 "InvalidKey",
	KindParseError:                 "ParseError",
	KindVersionNotFound:            "VersionNotFound",
	KindVersionIndexCorrupted:      "VersionIndexCorrupted",
	KindVersionLogRead:             "VersionLogRead",
	KindIndexBackendUnknown:        "IndexBackendUnknown",
	KindIndexOperationUnsupported:  "IndexOperationUnsupported",
	KindIndexConfigInvalid:         "IndexConfigInvalid",
	KindIO:                         "IoError",
	KindDivisionByZero:             "DivisionByZero",
	KindEmptySet:                   "EmptySet",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// ReedError is the single error type every façade call returns on
// failure. Context fields are optional and only populated where the
// originating component has something useful to report.
type ReedError struct {
	Kind    Kind
	Message string
	Path    string
	Line    int
	Offset  int
	Hint    string
	Err     error
}

func (e *ReedError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line=%d)", e.Line)
	}
	if e.Hint != "" {
		msg += fmt.Sprintf(" [hint: %s]", e.Hint)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReedError) Unwrap() error { return e.Err }

// Is reports whether target is a ReedError with the same Kind, so
// callers can use errors.Is(err, reederr.New(KindLockTimeout, "")).
func (e *ReedError) Is(target error) bool {
	t, ok := target.(*ReedError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a bare ReedError.
func New(kind Kind, message string) *ReedError {
	return &ReedError{Kind: kind, Message: message}
}

// Wrap builds a ReedError that chains an underlying cause.
func Wrap(kind Kind, message string, err error) *ReedError {
	return &ReedError{Kind: kind, Message: message, Err: err}
}

// WithPath attaches a path to the error and returns it for chaining.
func (e *ReedError) WithPath(path string) *ReedError { e.Path = path; return e }

// WithLine attaches a line number (1-indexed) and returns it for chaining.
func (e *ReedError) WithLine(line int) *ReedError { e.Line = line; return e }

// WithHint attaches a human-actionable hint and returns it for chaining.
func (e *ReedError) WithHint(hint string) *ReedError { e.Hint = hint; return e }

// WithOffset attaches a byte offset (used by the query parser) and
// returns it for chaining.
func (e *ReedError) WithOffset(offset int) *ReedError { e.Offset = offset; return e }

// Of reports the Kind of err if it is (or wraps) a *ReedError.
func Of(err error) Kind {
	var re *ReedError
	if as(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **ReedError) bool {
	for err != nil {
		if re, ok := err.(*ReedError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
