// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// FileSender transmits a file to the client. Implementations own range,
// modification-time and content-type handling.
type FileSender interface {
	// Send writes the file at path to w. It returns fs.ErrNotExist when
	// the path is missing and ErrIsDirectory when it names a directory;
	// both are handled quietly by the caller.
	Send(w http.ResponseWriter, r *http.Request, path string) error
}

// ErrIsDirectory is returned by FileSender implementations when the path
// resolves to a directory.
var ErrIsDirectory = &PathError{Op: "send", Err: "is a directory"}

// PathError is a minimal file-sending error value.
type PathError struct {
	Op   string
	Path string
	Err  string
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err
	}
	return e.Op + " " + e.Path + ": " + e.Err
}

// DNSResolver resolves upstream hostnames for the proxy. The zero value of
// engines uses the system resolver.
type DNSResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// SystemResolver is the default DNSResolver.
type SystemResolver struct{}

// LookupHost resolves via the operating system.
func (SystemResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}
