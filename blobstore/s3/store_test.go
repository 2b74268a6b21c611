package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/splitembed/blobstore"
)

// fakeS3Client is an in-memory S3 double. Uploads below the part size
// go through PutObject, so the multipart calls are never reached here.
type fakeS3Client struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func newFakeS3Client() *fakeS3Client {
	return &fakeS3Client{objects: make(map[string][]byte)}
}

func (f *fakeS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}

	var start, end int64
	if _, err := fmt.Sscanf(aws.ToString(params.Range), "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	if end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data[start : end+1])),
	}, nil
}

func (f *fakeS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3Client) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3Client) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prefix := aws.ToString(params.Prefix)
	var contents []s3types.Object
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			contents = append(contents, s3types.Object{Key: aws.String(key)})
		}
	}
	return &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(false),
	}, nil
}

func (f *fakeS3Client) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3Client) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3Client) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeS3Client) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func TestStoreOpenNotFound(t *testing.T) {
	store := NewStore(newFakeS3Client(), "bucket", "prefix")

	_, err := store.Open(context.Background(), "missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStorePutOpenReadAt(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3Client()
	store := NewStore(client, "bucket", "prefix")

	require.NoError(t, store.Put(ctx, "snap.bin", []byte("hello world")))
	assert.Contains(t, client.objects, "prefix/snap.bin")

	blob, err := store.Open(ctx, "snap.bin")
	require.NoError(t, err)
	defer blob.Close()

	assert.Equal(t, int64(11), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
}

func TestStoreCreateStreams(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3Client()
	store := NewStore(client, "bucket", "prefix")

	w, err := store.Create(ctx, "streamed")
	require.NoError(t, err)

	_, err = w.Write([]byte("first "))
	require.NoError(t, err)
	_, err = w.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, []byte("first second"), client.objects["prefix/streamed"])

	// Double close reports a closed pipe.
	require.Error(t, w.Close())
}

func TestStoreListStripsPrefix(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3Client()
	store := NewStore(client, "bucket", "prefix")

	require.NoError(t, store.Put(ctx, "a/one", []byte("1")))
	require.NoError(t, store.Put(ctx, "a/two", []byte("2")))
	require.NoError(t, store.Put(ctx, "b/three", []byte("3")))

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "a/two"}, names)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3Client()
	store := NewStore(client, "bucket", "prefix")

	require.NoError(t, store.Put(ctx, "gone", []byte("x")))
	require.NoError(t, store.Delete(ctx, "gone"))

	_, err := store.Open(ctx, "gone")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestBlobReadRange(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3Client()
	store := NewStore(client, "bucket", "")

	require.NoError(t, store.Put(ctx, "blob", []byte("0123456789")))

	blob, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	defer blob.Close()

	rc, err := blob.ReadRange(ctx, 2, 5)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "23456", string(data))
}
