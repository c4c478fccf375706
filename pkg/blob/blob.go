// Package blob defines the key/value contract the blob service persists
// through, together with the concrete stores that satisfy it.
package blob

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

// Backend is the minimal capability set required by the blob service.
//
// Keys are opaque strings and may contain "/" separators; a store must accept
// hierarchical keys without the intermediate segments existing beforehand.
// Fetch and Delete report a missing key with an error of kind
// xerrors.KindNotFound.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

var errEscapingKey = errors.New("key escapes the store root")

// CleanKey normalizes a key to a slash-separated relative path. Empty keys
// and keys that resolve outside the store root are rejected.
func CleanKey(key string) (string, error) {
	const op = "blob.CleanKey"
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", xerrors.E(xerrors.KindInvalid, op, key)
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(trimmed, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", xerrors.E(xerrors.KindInvalid, op, key)
	}
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." {
			return "", xerrors.Wrap(xerrors.KindInvalid, op, key, errEscapingKey)
		}
	}
	return cleaned, nil
}

func notFound(op, key string) error {
	return xerrors.E(xerrors.KindNotFound, op, key)
}
