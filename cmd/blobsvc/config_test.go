package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"

	"github.com/jacktea/blobsvc/pkg/blob"
	"github.com/jacktea/blobsvc/pkg/service"
	"github.com/jacktea/blobsvc/pkg/xerrors"
)

func TestBuildBackendFS(t *testing.T) {
	store, err := buildBackend(context.Background(), backendOptions{Kind: "fs", FSRoot: t.TempDir()}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*blob.FSStore); !ok {
		t.Fatalf("expected fs store, got %T", store)
	}
	if _, err := buildBackend(context.Background(), backendOptions{Kind: "fs"}, nil, nil); err == nil {
		t.Fatalf("expected fs root validation error")
	}
}

func TestBuildBackendTracksClosers(t *testing.T) {
	var closers []io.Closer
	mr := miniredis.RunT(t)
	ctx := context.Background()

	if _, err := buildBackend(ctx, backendOptions{Kind: "bolt", BoltPath: filepath.Join(t.TempDir(), "b.db")}, nil, &closers); err != nil {
		t.Fatalf("bolt: %v", err)
	}
	if _, err := buildBackend(ctx, backendOptions{Kind: "redis", RedisAddr: mr.Addr()}, nil, &closers); err != nil {
		t.Fatalf("redis: %v", err)
	}
	if _, err := buildBackend(ctx, backendOptions{Kind: "bucket", BucketURL: "mem://"}, nil, &closers); err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if len(closers) != 3 {
		t.Fatalf("expected 3 closers, got %d", len(closers))
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}

func TestBuildBackendValidation(t *testing.T) {
	ctx := context.Background()
	tests := []backendOptions{
		{Kind: "s3"},
		{Kind: "redis"},
		{Kind: "bolt"},
		{Kind: "bucket"},
		{Kind: "postgres"},
		{Kind: "floppy"},
	}
	for _, opts := range tests {
		if _, err := buildBackend(ctx, opts, nil, nil); err == nil {
			t.Fatalf("expected validation error for %q", opts.Kind)
		}
	}
}

func TestBuildBackendS3(t *testing.T) {
	store, err := buildBackend(context.Background(), backendOptions{
		Kind: "s3",
		S3: blob.S3Config{
			Endpoint:  "https://s3.example.com",
			Bucket:    "bucket",
			Region:    "us-east-1",
			AccessKey: "ak",
			SecretKey: "sk",
		},
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store == nil {
		t.Fatalf("expected store instance")
	}
}

func TestLoadBackendOptionsUsesPrefix(t *testing.T) {
	v := viper.New()
	v.Set("backend", "fs")
	v.Set("fs.root", "/primary")
	v.Set("mirror.backend", "s3")
	v.Set("mirror.s3.bucket", "backup")
	v.Set("mirror.s3.path_style", true)

	primary := loadBackendOptions(v, "", "backend")
	if primary.Kind != "fs" || primary.FSRoot != "/primary" {
		t.Fatalf("unexpected primary options %+v", primary)
	}
	mirror := loadBackendOptions(v, "mirror.", "mirror.backend")
	if mirror.Kind != "s3" || mirror.S3.Bucket != "backup" || !mirror.S3.PathStyle || mirror.FSRoot != "" {
		t.Fatalf("unexpected mirror options %+v", mirror)
	}
}

func TestBuildStackMirrorAndCache(t *testing.T) {
	v := viper.New()
	v.Set("backend", "memory")
	v.Set("mirror.backend", "fs")
	v.Set("mirror.fs.root", t.TempDir())
	v.Set("cache.entries", 8)

	var closers []io.Closer
	backend, err := buildStack(context.Background(), v, nil, &closers)
	if err != nil {
		t.Fatalf("build stack: %v", err)
	}
	if _, ok := backend.(*blob.CachedStore); !ok {
		t.Fatalf("expected cached store on top, got %T", backend)
	}
	if len(closers) != 1 {
		t.Fatalf("expected cache closer, got %d", len(closers))
	}

	ctx := context.Background()
	if err := backend.Put(ctx, "a.txt", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err := backend.Fetch(ctx, "a.txt"); err != nil || string(got) != "x" {
		t.Fatalf("fetch: %q %v", got, err)
	}
}

func newCommandService(t *testing.T) *service.Service {
	t.Helper()
	svc, err := service.New(service.Config{Backend: blob.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestCreateGetRemoveCommands(t *testing.T) {
	ctx := context.Background()
	svc := newCommandService(t)

	var out bytes.Buffer
	if err := doCreate(ctx, svc, strings.NewReader("hello world!"), "text/plain", "", &out); err != nil {
		t.Fatalf("create: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := rec["id"].(string)
	if id != "7509e5bda0c762d2bac7f90d758b5b2263fa01ccbc542ab5e3df163be08e6ca9.txt" {
		t.Fatalf("unexpected id %q", id)
	}

	out.Reset()
	if err := doGet(ctx, svc, id, true, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.String() != "hello world!" {
		t.Fatalf("unexpected raw output %q", out.String())
	}

	out.Reset()
	if err := doRemove(ctx, svc, id, &out); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := doGet(ctx, svc, id, false, io.Discard); xerrors.KindOf(err) != xerrors.KindNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestCreateDetectsMediaType(t *testing.T) {
	ctx := context.Background()
	svc := newCommandService(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	var out bytes.Buffer
	if err := doCreate(ctx, svc, bytes.NewReader(png), "", "", &out); err != nil {
		t.Fatalf("create: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasSuffix(rec["id"].(string), ".png") {
		t.Fatalf("expected png id, got %v", rec["id"])
	}
	if !strings.HasPrefix(rec["uri"].(string), "data:image/png;base64,") {
		t.Fatalf("unexpected uri %v", rec["uri"])
	}
}

func TestOpenInputStdin(t *testing.T) {
	r, err := openInput("-", strings.NewReader("piped"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "piped" {
		t.Fatalf("unexpected stdin data %q", data)
	}
	if _, err := openInput(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatalf("expected missing file error")
	}
}
