// Package skillerr defines the error taxonomy shared by every skillhub package.
//
// Each failure is an *Error carrying a Kind, a stable code in the
// "AREA_REASON" style and whichever identifiers are relevant (skill id,
// product id, path). Callers match on the sentinel errors with errors.Is or
// on the kind with IsKind.
package skillerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups errors by the layer that produced them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindFilesystem Kind = "filesystem"
	KindAdapter    Kind = "adapter"
	KindState      Kind = "state"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrStateCorrupted         = errors.New("state file corrupted")
	ErrLockFailed             = errors.New("state lock acquisition failed")
	ErrAdapterNotFound        = errors.New("adapter not found")
	ErrUnsupportedInstallMode = errors.New("unsupported install mode")
	ErrInvalidManifest        = errors.New("invalid manifest")
	ErrNotDeployed            = errors.New("skill not deployed to product")
	ErrNotStaged              = errors.New("skill not staged")
	ErrUnimplemented          = errors.New("operation not implemented for product")
	ErrUnavailable            = errors.New("update information unavailable")
	ErrSourceMissing          = errors.New("source does not exist")
	ErrUnmanagedArtifact      = errors.New("product artifact is not managed by skillhub")
	ErrUnsafeContent          = errors.New("skill payload failed the content scan")
)

// Error is the concrete error type returned by skillhub operations.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	SkillID   string
	ProductID string
	Path      string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	var ctx []string
	if e.SkillID != "" {
		ctx = append(ctx, "skill="+e.SkillID)
	}
	if e.ProductID != "" {
		ctx = append(ctx, "product="+e.ProductID)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if len(ctx) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Option decorates an Error with identifying context.
type Option func(*Error)

func Skill(id string) Option   { return func(e *Error) { e.SkillID = id } }
func Product(id string) Option { return func(e *Error) { e.ProductID = id } }
func Path(p string) Option     { return func(e *Error) { e.Path = p } }
func Cause(err error) Option   { return func(e *Error) { e.Err = err } }
func Message(m string) Option  { return func(e *Error) { e.Message = m } }
func Messagef(format string, args ...any) Option {
	return func(e *Error) { e.Message = fmt.Sprintf(format, args...) }
}

// New builds an Error of the given kind and code.
func New(kind Kind, code string, opts ...Option) *Error {
	e := &Error{Kind: kind, Code: code}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func Validation(code string, opts ...Option) *Error { return New(KindValidation, code, opts...) }
func Filesystem(code string, opts ...Option) *Error { return New(KindFilesystem, code, opts...) }
func Adapter(code string, opts ...Option) *Error    { return New(KindAdapter, code, opts...) }
func State(code string, opts ...Option) *Error      { return New(KindState, code, opts...) }

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
