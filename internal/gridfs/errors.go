package gridfs

import (
	"errors"

	"github.com/maneesh/gridstore/internal/storage"
)

var (
	// ErrNotFound: missing file, or a file still being uploaded
	ErrNotFound = storage.ErrNotFound
	// ErrWrite: chunk or metadata write failed after retries
	ErrWrite = errors.New("write error")
	// ErrRead: chunk read failed after retries, or stored data is inconsistent
	ErrRead = errors.New("read error")
	// ErrCommit: the upload cannot be committed; retrying will not help
	ErrCommit = errors.New("commit error")
	// ErrAlreadyFinalized: commit or abort on an upload that already ended
	ErrAlreadyFinalized = errors.New("upload already finalized")
	// ErrInvalidArgument: bad bucket name, filename or chunk size
	ErrInvalidArgument = errors.New("invalid argument")
)
