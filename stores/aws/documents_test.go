package aws

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"emojiart-server/core"
)

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func newDoc(data string) *core.Document {
	return &core.Document{Data: *bytes.NewBufferString(data)}
}

func TestCreateAndFind(t *testing.T) {
	client := newFakeS3()
	store := NewStoreWithClient(client, "art", "documents")
	ctx := context.Background()

	id, err := store.Create(ctx, newDoc("snapshot"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, ok := client.objects["art/documents/"+id]; !ok {
		t.Errorf("object not stored under documents/%s", id)
	}

	retrieved, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if got := retrieved.Data.String(); got != "snapshot" {
		t.Errorf("FindID() = %q, want %q", got, "snapshot")
	}
}

func TestFindID_NotFound(t *testing.T) {
	store := NewStoreWithClient(newFakeS3(), "art", "documents")
	if _, err := store.FindID(context.Background(), "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FindID() error = %v, want ErrNotFound", err)
	}
	if _, err := store.FindID(context.Background(), "../escape"); err == nil {
		t.Error("FindID() accepted a path as id")
	}
}

func TestUpdate(t *testing.T) {
	store := NewStoreWithClient(newFakeS3(), "art", "")
	ctx := context.Background()

	id, _ := store.Create(ctx, newDoc("v1"))
	if err := store.Update(ctx, id, newDoc("v2")); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	retrieved, _ := store.FindID(ctx, id)
	if got := retrieved.Data.String(); got != "v2" {
		t.Errorf("FindID() after Update = %q, want %q", got, "v2")
	}

	if err := store.Update(ctx, "missing", newDoc("x")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCreate_PutFailure(t *testing.T) {
	client := newFakeS3()
	client.putErr = errors.New("access denied")
	store := NewStoreWithClient(client, "art", "documents")

	if _, err := store.Create(context.Background(), newDoc("x")); err == nil {
		t.Error("Create() succeeded despite PutObject failure")
	}
}
