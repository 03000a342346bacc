package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// S3Client is the subset of the AWS SDK S3 client used by S3Adapter,
// narrowed for testability.
type S3Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Adapter is the S3-compatible object-store backend. CAS is implemented
// with the bucket's native conditional-write headers (IfMatch /
// IfNoneMatch) rather than a sidecar lock file (SPEC_FULL.md §4.1).
type S3Adapter struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3Adapter builds a client from ambient AWS configuration (shared
// config/credentials files, env vars, or instance role) and an optional
// custom endpoint for S3-compatible stores (MinIO, R2, ...).
func NewS3Adapter(ctx context.Context, bucket, region, endpoint, prefix string) (*S3Adapter, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, dberrors.StoragePermanent("blobstore", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3AdapterWithClient(client, bucket, prefix), nil
}

// NewS3AdapterWithClient wires a pre-built client, for testing against a
// fake S3Client.
func NewS3AdapterWithClient(client S3Client, bucket, prefix string) *S3Adapter {
	return &S3Adapter{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3Adapter) objectKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return strings.TrimSuffix(a.prefix, "/") + "/" + key
}

func (a *S3Adapter) Get(ctx context.Context, key string) ([]byte, string, bool, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", false, nil
		}
		return nil, "", false, dberrors.StorageTransient("blobstore", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", false, dberrors.StorageTransient("blobstore", err)
	}
	return data, etagOf(out.ETag), true, nil
}

func (a *S3Adapter) Put(ctx context.Context, key string, data []byte) (string, error) {
	out, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", dberrors.StorageTransient("blobstore", err)
	}
	return etagOf(out.ETag), nil
}

// CompareAndSwap relies on S3's conditional-write headers: IfNoneMatch:"*"
// when no version is expected (new key), IfMatch:<etag> otherwise. A 412
// Precondition Failed surfaces as KindConcurrentWrite.
func (a *S3Adapter) CompareAndSwap(ctx context.Context, key, expectedVersion string, newData []byte) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
		Body:   bytes.NewReader(newData),
	}
	if expectedVersion == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(expectedVersion)
	}

	out, err := a.client.PutObject(ctx, in)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", dberrors.ConcurrentWrite("blobstore", key)
		}
		return "", dberrors.StorageTransient("blobstore", err)
	}
	return etagOf(out.ETag), nil
}

func (a *S3Adapter) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return dberrors.StorageTransient("blobstore", err)
	}
	return nil
}

func (a *S3Adapter) DeleteBatch(ctx context.Context, keys []string) (*DeleteResult, error) {
	result := &DeleteResult{Failed: make(map[string]error)}
	if len(keys) == 0 {
		return result, nil
	}

	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(a.objectKey(k))}
	}

	out, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(a.bucket),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return nil, dberrors.StorageTransient("blobstore", err)
	}

	deletedKey := make(map[string]bool, len(out.Deleted))
	for _, d := range out.Deleted {
		deletedKey[aws.ToString(d.Key)] = true
	}
	for _, k := range keys {
		if deletedKey[a.objectKey(k)] {
			result.Deleted = append(result.Deleted, k)
		}
	}
	for _, e := range out.Errors {
		result.Failed[strings.TrimPrefix(aws.ToString(e.Key), a.prefix+"/")] = errors.New(aws.ToString(e.Message))
	}
	return result, nil
}

func (a *S3Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, dberrors.StorageTransient("blobstore", err)
	}
	return true, nil
}

func (a *S3Adapter) ListPrefix(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.objectKey(prefix)),
	}
	if limit > 0 {
		in.MaxKeys = aws.Int32(int32(limit))
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}

	out, err := a.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, dberrors.StorageTransient("blobstore", err)
	}

	stripPrefix := ""
	if a.prefix != "" {
		stripPrefix = strings.TrimSuffix(a.prefix, "/") + "/"
	}

	page := &ListPage{}
	for _, obj := range out.Contents {
		page.Entries = append(page.Entries, ListEntry{
			Key:     strings.TrimPrefix(aws.ToString(obj.Key), stripPrefix),
			Version: etagOf(obj.ETag),
		})
	}
	sort.Slice(page.Entries, func(i, j int) bool { return page.Entries[i].Key < page.Entries[j].Key })
	if out.IsTruncated != nil && *out.IsTruncated {
		page.NextCursor = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (a *S3Adapter) Capabilities() Capabilities {
	return Capabilities{
		SupportsConditionalWrites: true,
		SupportsBatchDelete:       true,
		SupportsCursorList:        true,
		SupportsLifecyclePolicies: true,
	}
}

func etagOf(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	var nfb *types.NotFound
	return errors.As(err, &nf) || errors.As(err, &nfb) || strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}

func isPreconditionFailed(err error) bool {
	return strings.Contains(err.Error(), "PreconditionFailed") || strings.Contains(err.Error(), "412")
}

var _ Adapter = (*S3Adapter)(nil)
