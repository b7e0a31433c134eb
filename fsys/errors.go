package fsys

import (
	"io/fs"

	"github.com/jmgilman/go/errors"
)

// Failure sentinels shared by every FileOps implementation. Each wraps the
// matching io/fs error, so callers may test with either.
var (
	ErrNotFound      = errors.Wrap(fs.ErrNotExist, errors.CodeNotFound, "no such file")
	ErrOutOfRange    = errors.Wrap(fs.ErrInvalid, errors.CodeInvalidInput, "index out of range")
	ErrReadOnly      = errors.Wrap(fs.ErrPermission, errors.CodeForbidden, "read-only filesystem")
	ErrCorruptImage  = errors.New(errors.CodeSchemaFailed, "corrupt image")
	ErrBadDescriptor = errors.Wrap(fs.ErrInvalid, errors.CodeInvalidInput, "bad descriptor")
)
