package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/store"
	"call-transcription-service/internal/store/memory"
)

type fakeBucket struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeBucket) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	b, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(b)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.objects[bucket+"/"+object] = b
	f.types[bucket+"/"+object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func TestSave_UploadsOnlyCompleted(t *testing.T) {
	tests := []struct {
		state      models.SessionState
		wantUpload bool
	}{
		{models.StatePending, false},
		{models.StateActive, false},
		{models.StateFailed, false},
		{models.StateCompleted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			bucket := newFakeBucket()
			mem := memory.New()
			s := New(mem, bucket, "call-transcripts")

			snap := models.SessionSnapshot{CallID: "call-1", State: tt.state, Transcript: "hello world"}
			if err := s.Save(context.Background(), snap); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			if _, err := mem.Load(context.Background(), "call-1"); err != nil {
				t.Errorf("wrapped store not written: %v", err)
			}
			body, ok := bucket.objects["call-transcripts/transcripts/call-1.json"]
			if ok != tt.wantUpload {
				t.Fatalf("uploaded = %v, want %v", ok, tt.wantUpload)
			}
			if !ok {
				return
			}
			var got models.SessionSnapshot
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("archived body is not JSON: %v", err)
			}
			if got.Transcript != "hello world" {
				t.Errorf("archived transcript = %q", got.Transcript)
			}
			if ct := bucket.types["call-transcripts/transcripts/call-1.json"]; ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
		})
	}
}

func TestSave_UploadFailureIsPersistenceError(t *testing.T) {
	bucket := newFakeBucket()
	bucket.err = errors.New("s3 unavailable")
	s := New(memory.New(), bucket, "b")

	err := s.Save(context.Background(), models.SessionSnapshot{CallID: "call-2", State: models.StateCompleted})
	var pe *store.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "archive" {
		t.Fatalf("Save() error = %v, want PersistenceError(archive)", err)
	}
}

func TestMarkFailedAndLoadPassThrough(t *testing.T) {
	mem := memory.New()
	s := New(mem, newFakeBucket(), "b")

	if err := s.MarkFailed(context.Background(), "call-3", "aborted"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	snap, err := s.Load(context.Background(), "call-3")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.State != models.StateFailed || snap.FailureReason != "aborted" {
		t.Errorf("Load() = %+v", snap)
	}
}

func TestObjectName(t *testing.T) {
	if got := ObjectName("CA42"); got != "transcripts/CA42.json" {
		t.Errorf("ObjectName() = %q", got)
	}
}
