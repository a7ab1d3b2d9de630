// Package fileserver implements the FileSender port on the local
// filesystem.
package fileserver

import (
	"net/http"
	"os"

	"github.com/artpar/hostgate/ports"
)

// Local serves files from the local filesystem.
type Local struct{}

// Send writes the file at path to w. Directories are reported as
// ports.ErrIsDirectory so callers can 404 them quietly.
func (Local) Send(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return ports.ErrIsDirectory
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return nil
}

var _ ports.FileSender = Local{}
