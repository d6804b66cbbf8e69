package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Storage(t *testing.T) {
	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config("http://localhost:9000/"))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if storage.bucket != "test-bucket" {
		t.Errorf("bucket = %v, want test-bucket", storage.bucket)
	}
	if storage.endpoint != "http://localhost:9000" {
		t.Errorf("endpoint = %v, want trailing slash trimmed", storage.endpoint)
	}

	// Local operations come from the embedded LocalStorage.
	dir, err := storage.NewInputDir(context.Background())
	if err != nil {
		t.Fatalf("NewInputDir() error = %v", err)
	}
	if err := storage.CleanupDir(context.Background(), dir); err != nil {
		t.Fatalf("CleanupDir() error = %v", err)
	}
}

func TestS3Storage_ObjectURL(t *testing.T) {
	aws := &S3Storage{bucket: "b", region: "eu-west-1"}
	if got := aws.objectURL("videos/job-1.mp4"); got != "https://b.s3.eu-west-1.amazonaws.com/videos/job-1.mp4" {
		t.Errorf("objectURL() = %v", got)
	}

	minio := &S3Storage{bucket: "b", region: "eu-west-1", endpoint: "http://minio:9000"}
	if got := minio.objectURL("videos/job-1.mp4"); got != "http://minio:9000/b/videos/job-1.mp4" {
		t.Errorf("objectURL() = %v", got)
	}
}

func TestS3Storage_UploadToS3_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}
		if r.URL.Path != "/test-bucket/videos/job-1.mp4" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "video/mp4" {
			t.Errorf("unexpected content type: %s", ct)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "mp4 bytes" {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	url, err := storage.UploadToS3(context.Background(), "videos/job-1.mp4", "video/mp4", bytes.NewReader([]byte("mp4 bytes")))
	if err != nil {
		t.Fatalf("UploadToS3() error = %v", err)
	}

	if url != server.URL+"/test-bucket/videos/job-1.mp4" {
		t.Errorf("url = %v", url)
	}
}
