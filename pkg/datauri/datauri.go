// Package datauri converts between base64 data URIs and (bytes, media type)
// pairs.
//
// Only the base64 form is accepted:
//
//	data:<media-type>;base64,<payload>
package datauri

import (
	"encoding/base64"
	"errors"
	"mime"
	"net/url"
	"strings"

	"github.com/jacktea/blobsvc/pkg/xerrors"
)

const (
	scheme       = "data:"
	base64Marker = ";base64"

	// DefaultMediaType is assumed when the URI omits the media type.
	DefaultMediaType = "text/plain;charset=US-ASCII"
	// FallbackMediaType is written by Encode when no media type is given.
	FallbackMediaType = "application/octet-stream"
)

var errBadPadding = errors.New("payload is neither padded nor raw base64")

// mediaTypeEscaper keeps quoted commas in parameters from ending the header.
var mediaTypeEscaper = strings.NewReplacer("%", "%25", ",", "%2C")

// Decode parses uri and returns its payload and declared media type.
func Decode(uri string) ([]byte, string, error) {
	const op = "datauri.Decode"
	if len(uri) < len(scheme) || !strings.EqualFold(uri[:len(scheme)], scheme) {
		return nil, "", xerrors.Wrap(xerrors.KindMalformedURI, op, "", errors.New("missing data: scheme"))
	}
	rest := uri[len(scheme):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, "", xerrors.Wrap(xerrors.KindMalformedURI, op, "", errors.New("missing payload separator"))
	}
	header, payload := rest[:comma], rest[comma+1:]
	if len(header) < len(base64Marker) || !strings.EqualFold(header[len(header)-len(base64Marker):], base64Marker) {
		return nil, "", xerrors.Wrap(xerrors.KindMalformedURI, op, "", errors.New("only base64 data uris are supported"))
	}
	mediaType, err := parseMediaType(header[:len(header)-len(base64Marker)])
	if err != nil {
		return nil, "", xerrors.Wrap(xerrors.KindMalformedURI, op, "", err)
	}
	data, err := decodePayload(payload)
	if err != nil {
		return nil, "", xerrors.Wrap(xerrors.KindInvalidEncoding, op, "", err)
	}
	return data, mediaType, nil
}

// Encode renders data as a base64 data URI. It never fails. Commas and
// percent signs in mediaType are percent-encoded.
func Encode(data []byte, mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		mediaType = FallbackMediaType
	}
	var b strings.Builder
	b.Grow(len(scheme) + len(mediaType) + len(base64Marker) + 1 + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(scheme)
	b.WriteString(mediaTypeEscaper.Replace(mediaType))
	b.WriteString(base64Marker)
	b.WriteByte(',')
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

func parseMediaType(raw string) (string, error) {
	if strings.Contains(raw, "%") {
		unescaped, err := url.PathUnescape(raw)
		if err != nil {
			return "", err
		}
		raw = unescaped
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultMediaType, nil
	}
	// RFC 2397 allows ";charset=..." without a type; mime.ParseMediaType does not.
	check := raw
	if strings.HasPrefix(check, ";") {
		check = "text/plain" + check
	}
	if _, _, err := mime.ParseMediaType(check); err != nil {
		return "", err
	}
	if !strings.Contains(strings.SplitN(check, ";", 2)[0], "/") {
		return "", errors.New("media type must be type/subtype")
	}
	if check != raw {
		return check, nil
	}
	return raw, nil
}

func decodePayload(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			return -1
		}
		return r
	}, payload)
	if strings.HasSuffix(cleaned, "=") || len(cleaned)%4 == 0 {
		return base64.StdEncoding.DecodeString(cleaned)
	}
	data, err := base64.RawStdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, errors.Join(errBadPadding, err)
	}
	return data, nil
}
