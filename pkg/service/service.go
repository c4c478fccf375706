// Package service ties the data URI codec, content identifiers and a
// storage backend together into the create/get/remove blob façade.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jacktea/blobsvc/pkg/blob"
	"github.com/jacktea/blobsvc/pkg/contentid"
	"github.com/jacktea/blobsvc/pkg/datauri"
	"github.com/jacktea/blobsvc/pkg/xerrors"
)

// DefaultIDField is the record field that carries the blob id.
const DefaultIDField = "id"

// Config holds façade options.
type Config struct {
	Backend blob.Backend
	// IDField names the identifier in records and create input.
	IDField string
	Logger  *slog.Logger
}

// Service is the blob façade. It holds no mutable state and is safe for
// concurrent use as long as its backend is.
type Service struct {
	backend blob.Backend
	idField string
	log     *slog.Logger
}

// CreateInput is a create request. An empty ID asks for a content-derived one.
type CreateInput struct {
	URI string
	ID  string
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Backend == nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "service.New", "", errors.New("backend is required"))
	}
	idField := strings.TrimSpace(cfg.IDField)
	if idField == "" {
		idField = DefaultIDField
	}
	if idField == "uri" || idField == "size" {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "service.New", "", fmt.Errorf("id field %q collides with a record field", idField))
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{backend: cfg.Backend, idField: idField, log: log}, nil
}

// IDField returns the configured identifier field name.
func (s *Service) IDField() string { return s.idField }

// Create decodes in.URI, stores the payload under in.ID (or its content
// id) and returns the stored record. Nothing is written when decoding fails.
func (s *Service) Create(ctx context.Context, in CreateInput) (Record, error) {
	const op = "service.Create"
	data, mediaType, err := datauri.Decode(in.URI)
	if err != nil {
		s.log.Warn("rejected create", slog.String("reason", xerrors.KindOf(err).String()), "err", err)
		return Record{}, err
	}
	id := in.ID
	if id == "" {
		id = contentid.DeriveID(data, mediaType)
	}
	if err := s.backend.Put(ctx, id, data); err != nil {
		s.log.Error("failed to store blob", slog.String("id", id), "err", err)
		return Record{}, backendError(op, id, err)
	}
	s.log.Debug("created blob",
		slog.String("id", id),
		slog.String("media_type", mediaType),
		slog.Int("size", len(data)))
	return s.record(id, data, mediaType), nil
}

// Get loads the blob stored under id. The media type is recovered from
// the id's extension.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	const op = "service.Get"
	if id == "" {
		return Record{}, xerrors.Wrap(xerrors.KindInvalid, op, "", errors.New("id is required"))
	}
	data, err := s.backend.Fetch(ctx, id)
	if err != nil {
		if !xerrors.IsNotFound(err) {
			s.log.Error("failed to fetch blob", slog.String("id", id), "err", err)
		}
		return Record{}, backendError(op, id, err)
	}
	return s.record(id, data, contentid.MediaTypeFor(id)), nil
}

// Remove deletes the blob stored under id. The returned record carries
// only the id.
func (s *Service) Remove(ctx context.Context, id string) (Record, error) {
	const op = "service.Remove"
	if id == "" {
		return Record{}, xerrors.Wrap(xerrors.KindInvalid, op, "", errors.New("id is required"))
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		if !xerrors.IsNotFound(err) {
			s.log.Error("failed to remove blob", slog.String("id", id), "err", err)
		}
		return Record{}, backendError(op, id, err)
	}
	s.log.Debug("removed blob", slog.String("id", id))
	return Record{ID: id, idField: s.idField, idOnly: true}, nil
}

// InputFromFields builds a CreateInput from a decoded JSON object, reading
// "uri" and the configured id field.
func (s *Service) InputFromFields(fields map[string]any) (CreateInput, error) {
	const op = "service.InputFromFields"
	var in CreateInput
	raw, ok := fields["uri"]
	if !ok || raw == nil {
		return in, xerrors.Wrap(xerrors.KindInvalid, op, "", errors.New("uri is required"))
	}
	uri, ok := raw.(string)
	if !ok {
		return in, xerrors.Wrap(xerrors.KindInvalid, op, "", fmt.Errorf("uri must be a string, got %T", raw))
	}
	in.URI = uri
	if raw, ok := fields[s.idField]; ok && raw != nil {
		id, ok := raw.(string)
		if !ok {
			return in, xerrors.Wrap(xerrors.KindInvalid, op, "", fmt.Errorf("%s must be a string, got %T", s.idField, raw))
		}
		in.ID = id
	}
	return in, nil
}

func (s *Service) record(id string, data []byte, mediaType string) Record {
	return Record{
		ID:        id,
		URI:       datauri.Encode(data, mediaType),
		Size:      len(data),
		MediaType: mediaType,
		Content:   data,
		idField:   s.idField,
	}
}

// backendError maps a backend failure onto the façade's error kinds.
func backendError(op, id string, err error) error {
	switch xerrors.KindOf(err) {
	case xerrors.KindNotFound:
		return xerrors.Wrap(xerrors.KindNotFound, op, id, err)
	case xerrors.KindInvalid:
		return xerrors.Wrap(xerrors.KindInvalid, op, id, err)
	default:
		return xerrors.Wrap(xerrors.KindStorage, op, id, err)
	}
}
