package blob

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

func newFakeS3(t *testing.T, bucket string) *httptest.Server {
	t.Helper()
	backend := s3mem.New()
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	return newHTTPTestServer(t, gofakes3.New(backend).Server())
}

func newTestS3Store(t *testing.T, prefix string) (*S3Store, *httptest.Server) {
	t.Helper()
	server := newFakeS3(t, "bucket")
	t.Cleanup(server.Close)
	store, err := NewS3Store(S3Config{
		Bucket:    "bucket",
		Prefix:    prefix,
		Region:    "us-east-1",
		Endpoint:  server.URL,
		AccessKey: "ak",
		SecretKey: "sk",
		PathStyle: true,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, server
}

func TestS3StoreContract(t *testing.T) {
	store, _ := newTestS3Store(t, "")
	runBackendContract(t, store)
}

func TestS3StoreWritesUnderPrefixWithContentType(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestS3Store(t, "/tenant-a/")
	if err := store.Put(ctx, "custom/id/a.txt", []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}
	head, err := store.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String("bucket"),
		Key:    aws.String("tenant-a/custom/id/a.txt"),
	})
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if got := aws.StringValue(head.ContentType); got != "text/plain" {
		t.Fatalf("expected text/plain content type, got %q", got)
	}
	if got := aws.Int64Value(head.ContentLength); got != 5 {
		t.Fatalf("expected length 5, got %d", got)
	}
}

func TestS3StoreMissingBucketIsStorageError(t *testing.T) {
	ctx := context.Background()
	server := newFakeS3(t, "bucket")
	defer server.Close()
	store, err := NewS3Store(S3Config{
		Bucket:    "missing",
		Endpoint:  server.URL,
		AccessKey: "ak",
		SecretKey: "sk",
		PathStyle: true,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Put(ctx, "a.txt", []byte("x")); err == nil {
		t.Fatalf("expected put into missing bucket to fail")
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(S3Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func newHTTPTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("httptest listener unavailable: %v", err)
	}
	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = ln
	srv.Start()
	return srv
}
