package index

import (
	"errors"
	"fmt"
)

// Kind classifies why Reconcile failed.
type Kind int

const (
	// NotResolvable: the path has no usable directory.
	NotResolvable Kind = iota + 1
	// FilesystemError: listing the directory failed.
	FilesystemError
	// StoreError: reading or writing the timestamp cache failed.
	StoreError
)

func (k Kind) String() string {
	switch k {
	case NotResolvable:
		return "not resolvable"
	case FilesystemError:
		return "filesystem"
	case StoreError:
		return "store"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is returned by Reconcile for any step that aborts reconciliation.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

// Error formats as "kind: path: cause".
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is, or wraps, an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
