package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/embedgraph/core/internal/errors"
)

type fakeS3Client struct {
	objects map[string][]byte
	etags   map[string]string
}

func newFakeS3Client() *fakeS3Client {
	return &fakeS3Client{objects: map[string][]byte{}, etags: map[string]string{}}
}

func (f *fakeS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
		ETag: aws.String(f.etags[key]),
	}, nil
}

func (f *fakeS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	_, exists := f.objects[key]

	if in.IfNoneMatch != nil && exists {
		return nil, errors.New("PreconditionFailed: 412")
	}
	if in.IfMatch != nil && f.etags[key] != aws.ToString(in.IfMatch) {
		return nil, errors.New("PreconditionFailed: 412")
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	etag := fmt.Sprintf("etag-%x", sha256.Sum256(data))
	f.objects[key] = data
	f.etags[key] = etag
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3Client) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	delete(f.objects, key)
	delete(f.etags, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3Client) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	out := &s3.DeleteObjectsOutput{}
	for _, obj := range in.Delete.Objects {
		key := aws.ToString(obj.Key)
		delete(f.objects, key)
		delete(f.etags, key)
		out.Deleted = append(out.Deleted, types.DeletedObject{Key: obj.Key})
	}
	return out, nil
}

func (f *fakeS3Client) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3Client) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k), ETag: aws.String(f.etags[k])})
		}
	}
	return out, nil
}

func TestS3Adapter_Get_MissingKeyReturnsNotFoundFalse(t *testing.T) {
	a := NewS3AdapterWithClient(newFakeS3Client(), "bucket", "")
	data, version, found, err := a.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
	assert.Empty(t, version)
}

func TestS3Adapter_PutThenGet_RoundTrips(t *testing.T) {
	a := NewS3AdapterWithClient(newFakeS3Client(), "bucket", "")
	ctx := context.Background()

	_, err := a.Put(ctx, "k", []byte("hello"))
	require.NoError(t, err)

	data, version, found, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)
	assert.NotEmpty(t, version)
}

func TestS3Adapter_CompareAndSwap_RequiresEmptyVersionForNewKey(t *testing.T) {
	a := NewS3AdapterWithClient(newFakeS3Client(), "bucket", "")
	ctx := context.Background()

	version, err := a.CompareAndSwap(ctx, "fresh", "", []byte("v1"))
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	_, err = a.CompareAndSwap(ctx, "fresh", "", []byte("v2"))
	require.Error(t, err)
	assert.True(t, dberrors.IsKind(err, dberrors.KindConcurrentWrite))
}

func TestS3Adapter_CompareAndSwap_FailsOnStaleVersion(t *testing.T) {
	a := NewS3AdapterWithClient(newFakeS3Client(), "bucket", "")
	ctx := context.Background()

	_, err := a.Put(ctx, "k", []byte("v1"))
	require.NoError(t, err)

	_, err = a.CompareAndSwap(ctx, "k", "stale-etag", []byte("v2"))
	require.Error(t, err)
	assert.True(t, dberrors.IsKind(err, dberrors.KindConcurrentWrite))
}

func TestS3Adapter_CompareAndSwap_SucceedsOnMatchingVersion(t *testing.T) {
	a := NewS3AdapterWithClient(newFakeS3Client(), "bucket", "")
	ctx := context.Background()

	v1, err := a.Put(ctx, "k", []byte("v1"))
	require.NoError(t, err)

	v2, err := a.CompareAndSwap(ctx, "k", v1, []byte("v2"))
	require.NoError(t, err)
	assert.NotEmpty(t, v2)

	data, _, _, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestS3Adapter_Exists(t *testing.T) {
	a := NewS3AdapterWithClient(newFakeS3Client(), "bucket", "")
	ctx := context.Background()

	exists, err := a.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	_, _ = a.Put(ctx, "k", []byte("v"))
	exists, err = a.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestS3Adapter_DeleteBatch_ReportsDeletedKeys(t *testing.T) {
	a := NewS3AdapterWithClient(newFakeS3Client(), "bucket", "")
	ctx := context.Background()
	_, _ = a.Put(ctx, "a", []byte("1"))
	_, _ = a.Put(ctx, "b", []byte("2"))

	result, err := a.DeleteBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, result.Deleted)
}

func TestS3Adapter_KeyPrefixIsApplied(t *testing.T) {
	client := newFakeS3Client()
	a := NewS3AdapterWithClient(client, "bucket", "tenant-1")
	ctx := context.Background()

	_, err := a.Put(ctx, "k", []byte("v"))
	require.NoError(t, err)

	_, ok := client.objects["tenant-1/k"]
	assert.True(t, ok)

	data, _, found, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), data)
}

func TestS3Adapter_Capabilities(t *testing.T) {
	a := NewS3AdapterWithClient(newFakeS3Client(), "bucket", "")
	caps := a.Capabilities()
	assert.True(t, caps.SupportsConditionalWrites)
	assert.True(t, caps.SupportsLifecyclePolicies)
}
