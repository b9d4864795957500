package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Failure kinds. A *StorageError matches its kind with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDiskFull         = errors.New("no space left on device")
	ErrAuth             = errors.New("authentication failed")
	ErrNetwork          = errors.New("network error")
	ErrStorage          = errors.New("storage error")
)

// StorageError is a classified backend failure.
type StorageError struct {
	Kind error  // one of the Err* kinds above
	Op   string // init, read, write, list
	Path string // file path or object key, may be empty
	Err  error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString("checkpoint ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	fmt.Fprintf(&b, ": %v: %v", e.Kind, e.Err)
	return b.String()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return e.Kind == target }

// Transient reports whether repeating the operation could succeed.
func (e *StorageError) Transient() bool { return e.Kind == ErrNetwork }

func wrapError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: classifyError(err), Op: op, Path: path, Err: err}
}

// classification matches typed errors first, then well-known message
// fragments from the filesystem and the AWS SDK.
var classification = []struct {
	kind    error
	targets []error
	words   []string
}{
	{ErrPermissionDenied, []error{fs.ErrPermission}, []string{"permission denied", "eacces", "accessdenied", "forbidden", "403"}},
	{ErrDiskFull, []error{syscall.ENOSPC}, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{ErrAuth, nil, []string{"nocredentialproviders", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{ErrNetwork, []error{syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH}, []string{"connection refused", "no route to host", "network unreachable", "no such host", "dial tcp", "i/o timeout"}},
}

func classifyError(err error) error {
	for _, c := range classification {
		for _, t := range c.targets {
			if errors.Is(err, t) {
				return c.kind
			}
		}
	}
	msg := strings.ToLower(err.Error())
	for _, c := range classification {
		for _, w := range c.words {
			if strings.Contains(msg, w) {
				return c.kind
			}
		}
	}
	return ErrStorage
}
