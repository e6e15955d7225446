package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures an S3-compatible bucket as cache storage.
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKey"`
	SecretAccessKey string `yaml:"secretKey"`
	Bucket          string `yaml:"bucket"`
	// Prefix is prepended to every object name, so a bucket can be shared.
	Prefix string `yaml:"prefix"`
	UseSSL bool   `yaml:"useSSL"`
}

// Object layout:
//
//	<prefix><generation>/.generation       marker object
//	<prefix><generation>/e/<base64url key> serialized response
const (
	markerObject   = ".generation"
	entriesSegment = "e/"
	noSuchKey      = "NoSuchKey"
)

// MinioProvider stores generations as object prefixes in a bucket.
type MinioProvider struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioProvider connects to the object storage and creates the bucket if needed.
func NewMinioProvider(ctx context.Context, config MinioConfig) (*MinioProvider, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &MinioProvider{client: client, bucket: config.Bucket, prefix: config.Prefix}, nil
}

func (m *MinioProvider) generationDir(name string) string {
	return m.prefix + name + "/"
}

func (m *MinioProvider) markerName(name string) string {
	return m.generationDir(name) + markerObject
}

func (m *MinioProvider) entryName(name, key string) string {
	return m.generationDir(name) + entriesSegment + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (m *MinioProvider) keyFromEntryName(name, object string) (string, error) {
	encoded := strings.TrimPrefix(object, m.generationDir(name)+entriesSegment)
	key, err := base64.RawURLEncoding.DecodeString(encoded)
	return string(key), err
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == noSuchKey
}

func (m *MinioProvider) putObject(ctx context.Context, object string, value []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, object, bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/http"})
	return err
}

func (m *MinioProvider) Create(ctx context.Context, name string) error {
	if ok, err := m.Has(ctx, name); err != nil || ok {
		return err
	}
	return m.putObject(ctx, m.markerName(name), nil)
}

func (m *MinioProvider) Names(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		// non-recursive listings return one common prefix per generation
		if strings.HasSuffix(obj.Key, "/") {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(obj.Key, m.prefix), "/"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MinioProvider) Has(ctx context.Context, name string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, m.markerName(name), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

func (m *MinioProvider) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := m.Has(ctx, name)
	if err != nil {
		return false, err
	}
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    m.generationDir(name),
		Recursive: true,
	})
	// the channel must be drained, or the remover blocks
	var firstErr error
	for rErr := range m.client.RemoveObjects(ctx, m.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	return existed, firstErr
}

func (m *MinioProvider) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.entryName(name, key), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (m *MinioProvider) Put(ctx context.Context, name, key string, value []byte) error {
	if err := m.putObject(ctx, m.entryName(name, key), value); err != nil {
		return err
	}
	return m.Create(ctx, name)
}

func (m *MinioProvider) Keys(ctx context.Context, name string) ([]string, error) {
	keys := make([]string, 0)
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    m.generationDir(name) + entriesSegment,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		key, err := m.keyFromEntryName(name, obj.Key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
