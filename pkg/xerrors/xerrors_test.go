package xerrors

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	wrapped := Wrap(KindInvalidEncoding, "decode", "", errors.New("boom"))

	testcases := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "nil", err: nil, kind: KindInvalid},
		{name: "wrapped error", err: wrapped, kind: KindInvalidEncoding},
		{name: "fmt wrapped", err: fmt.Errorf("outer: %w", E(KindNotFound, "get", "a.txt")), kind: KindNotFound},
		{name: "iofs not exist", err: iofs.ErrNotExist, kind: KindNotFound},
		{name: "os not exist", err: os.ErrNotExist, kind: KindNotFound},
		{name: "iofs invalid", err: iofs.ErrInvalid, kind: KindInvalid},
		{name: "unknown error defaults storage", err: errors.New("other"), kind: KindStorage},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.kind {
				t.Fatalf("KindOf() = %v, want %v", got, tc.kind)
			}
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := Wrap(KindNotFound, "fetch", "a/b.txt", os.ErrNotExist)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is to match ErrNotFound")
	}
	if errors.Is(err, ErrInvalid) {
		t.Fatalf("did not expect match against ErrInvalid")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected cause to stay reachable")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindStorage, "create", "abc.txt", errors.New("disk full"))
	if got, want := err.Error(), "create: storage error abc.txt: disk full"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if got, want := E(KindMalformedURI, "decode", "").Error(), "decode: malformed data uri"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
