// Package errors defines the error taxonomy shared by the indexing and
// retrieval pipeline.
//
// Every failure surfaced by the pipeline belongs to one of five kinds:
//
//   - Config: invalid or missing configuration, embedding model mismatch.
//     Fatal; the caller should stop and report.
//   - Access: a file or directory could not be read while walking. The
//     affected entry is skipped and the run continues.
//   - Parse: a grammar failed to parse a source file. The file falls back
//     to plain line windowing.
//   - Service: an embedding provider or vector store call failed. Retried
//     when Retryable is set, then recorded in the run report.
//   - Upstream: the answer-mode LLM call failed. Surfaced to the caller
//     unchanged.
//
// Errors carry an exit code so the CLI can translate a fatal error into a
// stable process status.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Kind identifies the error category.
type Kind int

const (
	KindConfig Kind = iota
	KindAccess
	KindParse
	KindService
	KindUpstream
)

// String returns the lowercase category name, used in logs and JSON output.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAccess:
		return "access"
	case KindParse:
		return "parse"
	case KindService:
		return "service"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// Exit codes used by the CLI for fatal errors.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitConfig   = 2
	ExitService  = 4
	ExitUpstream = 5
	ExitInternal = 10
)

// Error is a categorized pipeline error.
type Error struct {
	// Kind is the taxonomy category.
	Kind Kind

	// Op names the operation that failed, dotted and lowercase
	// ("walker.walk", "embedder.embed", "store.upsert").
	Op string

	// Message describes what went wrong in user-facing language.
	Message string

	// Fix is an optional actionable suggestion shown by the CLI.
	Fix string

	// Retryable marks a Service error as worth retrying (timeouts,
	// rate limits, 5xx responses). Meaningless for other kinds.
	Retryable bool

	// ExitCode is the process status a fatal occurrence should exit with.
	ExitCode int

	// Err is the wrapped underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError reports invalid or missing configuration. Fatal.
func NewConfigError(op, msg, fix string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Message: msg, Fix: fix, ExitCode: ExitConfig, Err: err}
}

// NewAccessError reports an unreadable file or directory. The walker skips
// the entry and continues.
func NewAccessError(op, path string, err error) *Error {
	return &Error{Kind: KindAccess, Op: op, Message: "cannot access " + path, ExitCode: ExitFailure, Err: err}
}

// NewParseError reports a grammar failure on a file. The chunker falls back
// to line windowing for that file.
func NewParseError(op, path string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Message: "cannot parse " + path, ExitCode: ExitFailure, Err: err}
}

// NewServiceError reports a failed embedding or vector store call.
func NewServiceError(op, msg string, retryable bool, err error) *Error {
	return &Error{Kind: KindService, Op: op, Message: msg, Retryable: retryable, ExitCode: ExitService, Err: err}
}

// NewUpstreamError reports a failed answer-mode LLM call.
func NewUpstreamError(op, msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Message: msg, ExitCode: ExitUpstream, Err: err}
}

// As unwraps err to a taxonomy *Error, or returns nil.
func As(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return nil
}

// IsKind reports whether err is a taxonomy error of the given kind anywhere
// in its chain.
func IsKind(err error, k Kind) bool {
	if e := As(err); e != nil {
		return e.Kind == k
	}
	return false
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return IsKind(err, KindConfig) }

// IsAccess reports whether err is a file access error.
func IsAccess(err error) bool { return IsKind(err, KindAccess) }

// IsParse reports whether err is a parse error.
func IsParse(err error) bool { return IsKind(err, KindParse) }

// IsService reports whether err is a service error.
func IsService(err error) bool { return IsKind(err, KindService) }

// IsUpstream reports whether err is an upstream LLM error.
func IsUpstream(err error) bool { return IsKind(err, KindUpstream) }

// IsRetryable reports whether err is a Service error marked retryable.
func IsRetryable(err error) bool {
	if e := As(err); e != nil {
		return e.Kind == KindService && e.Retryable
	}
	return false
}

// retryableFragments are substrings of error text that indicate a transient
// network or service condition worth retrying.
var retryableFragments = []string{
	"timeout",
	"timed out",
	"temporarily unavailable",
	"connection refused",
	"connection reset",
	"deadline exceeded",
	"no such host",
	"EOF",
	"429",
	"too many requests",
	"rate limit",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
}

// RetryableText reports whether an error message looks transient. Used by
// clients to classify failures that arrive without an HTTP status.
func RetryableText(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range retryableFragments {
		if strings.Contains(msg, strings.ToLower(frag)) {
			return true
		}
	}
	return false
}

// RetryableStatus reports whether an HTTP status code is worth retrying.
func RetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// Color definitions for error formatting.
var (
	colorError = color.New(color.FgRed, color.Bold)
	colorFix   = color.New(color.FgGreen)
)

// Format renders the error for terminal display, with an optional fix hint.
// Color respects NO_COLOR and the noColor argument.
func (e *Error) Format(noColor bool) string {
	original := color.NoColor
	defer func() { color.NoColor = original }()
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	if e.Err != nil {
		out.WriteString(": ")
		out.WriteString(e.Err.Error())
	}
	out.WriteString("\n")
	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}
	return out.String()
}

// ErrorJSON is the machine-readable rendering used in --json mode.
type ErrorJSON struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Op       string `json:"op,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the error to its JSON form.
func (e *Error) ToJSON() ErrorJSON {
	return ErrorJSON{
		Error:    e.Error(),
		Kind:     e.Kind.String(),
		Op:       e.Op,
		Fix:      e.Fix,
		ExitCode: e.ExitCode,
	}
}

// Fatal prints err to stderr and exits with its exit code. Non-taxonomy
// errors exit with ExitInternal.
func Fatal(err error, jsonOutput bool) {
	if err == nil {
		return
	}
	if e := As(err); e != nil {
		if jsonOutput {
			_ = json.NewEncoder(os.Stderr).Encode(e.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, e.Format(false))
		}
		os.Exit(e.ExitCode)
	}
	if jsonOutput {
		_ = json.NewEncoder(os.Stderr).Encode(ErrorJSON{Error: err.Error(), Kind: "unknown", ExitCode: ExitInternal})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(ExitInternal)
}
