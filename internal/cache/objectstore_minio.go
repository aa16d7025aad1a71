package cache

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
)

// MinioStore implements ObjectStore against any S3-compatible endpoint via
// minio-go, the client the tracing-backend branch of the corpus uses for
// its own object-store-backed metadata layer.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore wraps an already-constructed minio client.
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

func (m *MinioStore) PutOpts(ctx context.Context, path string, payload []byte, opts PutOpts) (ObjectMeta, error) {
	info, err := m.client.PutObject(ctx, m.bucket, path, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	if err != nil {
		return ObjectMeta{}, translateErr(err)
	}
	return ObjectMeta{ETag: strPtr(info.ETag), Version: strPtrOrNil(info.VersionID)}, nil
}

func (m *MinioStore) GetOpts(ctx context.Context, path string, opts GetOpts) ([]byte, ObjectMeta, error) {
	getOpts := minio.GetObjectOptions{}
	if opts.IfNoneMatch != nil {
		if err := getOpts.SetMatchETagExcept(*opts.IfNoneMatch); err != nil {
			return nil, ObjectMeta{}, err
		}
	}

	obj, err := m.client.GetObject(ctx, m.bucket, path, getOpts)
	if err != nil {
		return nil, ObjectMeta{}, translateErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, ObjectMeta{}, translateErr(err)
	}

	info, err := obj.Stat()
	if err != nil {
		return nil, ObjectMeta{}, translateErr(err)
	}
	return data, ObjectMeta{ETag: strPtr(info.ETag), Version: strPtrOrNil(info.VersionID)}, nil
}

func (m *MinioStore) Delete(ctx context.Context, path string) error {
	return translateErr(m.client.RemoveObject(ctx, m.bucket, path, minio.RemoveObjectOptions{}))
}

func (m *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, translateErr(obj.Err)
		}
		out = append(out, obj.Key)
	}
	return out, nil
}

func (m *MinioStore) ListWithDelimiter(ctx context.Context, prefix string) (ListResult, error) {
	var res ListResult
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: false}) {
		if obj.Err != nil {
			return ListResult{}, translateErr(obj.Err)
		}
		if obj.Key == "" {
			continue
		}
		if len(obj.Key) > 0 && obj.Key[len(obj.Key)-1] == '/' {
			res.CommonPrefixes = append(res.CommonPrefixes, obj.Key)
		} else {
			res.Objects = append(res.Objects, obj.Key)
		}
	}
	return res, nil
}

func (m *MinioStore) Copy(ctx context.Context, from, to string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: to},
		minio.CopySrcOptions{Bucket: m.bucket, Object: from},
	)
	return translateErr(err)
}

func (m *MinioStore) CopyIfNotExists(ctx context.Context, from, to string) error {
	_, err := m.client.StatObject(ctx, m.bucket, to, minio.StatObjectOptions{})
	if err == nil {
		return ErrPreconditionFailed
	}
	var me minio.ErrorResponse
	if !errors.As(err, &me) || me.Code != "NoSuchKey" {
		return translateErr(err)
	}
	return m.Copy(ctx, from, to)
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var me minio.ErrorResponse
	if errors.As(err, &me) {
		switch {
		case me.Code == "NoSuchKey":
			return ErrNotFound
		case me.Code == "PreconditionFailed":
			return ErrPreconditionFailed
		case me.StatusCode == 304 || me.Code == "NotModified":
			return ErrNotModified
		}
	}
	return err
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
