package blob

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

// FSOptions tune FSStore layout.
type FSOptions struct {
	// Fanout spreads flat keys over two directory levels derived from the
	// first four characters (objects/ab/cd/abcd...), keeping directories
	// small when most keys are content hashes. Keys that contain "/" are
	// stored as given under keys/, so the two layouts never share a path.
	Fanout bool
	Logger *slog.Logger
}

const (
	fanoutObjectsDir = "objects"
	fanoutKeysDir    = "keys"
)

// FSStore persists blobs as files in a directory tree.
type FSStore struct {
	fs     billy.Filesystem
	fanout bool
	log    *slog.Logger
}

// NewFSStore returns a store rooted at the host directory root.
func NewFSStore(root string, opts FSOptions) (*FSStore, error) {
	if root == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "FSStore", "root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorage, "FSStore.mkdir", root, err)
	}
	return NewFSStoreOn(osfs.New(root), opts), nil
}

// NewFSStoreOn wraps an existing billy filesystem, e.g. memfs in tests.
func NewFSStoreOn(fs billy.Filesystem, opts FSOptions) *FSStore {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &FSStore{fs: fs, fanout: opts.Fanout, log: log}
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	const op = "FSStore.Put"
	name, err := s.pathFor(key)
	if err != nil {
		return err
	}
	dir := path.Dir(name)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.KindStorage, op, key, err)
	}
	tmp, err := s.fs.TempFile(dir, "upload-")
	if err != nil {
		return xerrors.Wrap(xerrors.KindStorage, op, key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindStorage, op, key, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindStorage, op, key, err)
	}
	if err := s.fs.Rename(tmpName, name); err != nil {
		s.fs.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindStorage, op, key, err)
	}
	s.log.Debug("stored blob file", slog.String("path", name), slog.Int("size", len(data)))
	return nil
}

func (s *FSStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	const op = "FSStore.Fetch"
	name, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(name)
	if err != nil {
		return nil, s.classify(op, key, err)
	}
	if info.IsDir() {
		return nil, notFound(op, key)
	}
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, s.classify(op, key, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStorage, op, key, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	const op = "FSStore.Delete"
	name, err := s.pathFor(key)
	if err != nil {
		return err
	}
	info, err := s.fs.Stat(name)
	if err != nil {
		return s.classify(op, key, err)
	}
	if info.IsDir() {
		return notFound(op, key)
	}
	if err := s.fs.Remove(name); err != nil {
		return s.classify(op, key, err)
	}
	s.log.Debug("removed blob file", slog.String("path", name))
	return nil
}

func (s *FSStore) classify(op, key string, err error) error {
	if xerrors.KindOf(err) == xerrors.KindNotFound {
		return xerrors.Wrap(xerrors.KindNotFound, op, key, err)
	}
	return xerrors.Wrap(xerrors.KindStorage, op, key, err)
}

func (s *FSStore) pathFor(key string) (string, error) {
	name, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if !s.fanout {
		return name, nil
	}
	if path.Dir(name) != "." {
		return path.Join(fanoutKeysDir, name), nil
	}
	// Short names are padded so every flat blob sits at the same depth.
	shard := name
	if len(shard) < 4 {
		shard += strings.Repeat("_", 4-len(shard))
	}
	return path.Join(fanoutObjectsDir, shard[:2], shard[2:4], name), nil
}
