package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions carries the S3 connection settings.
type MinioOptions struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	Bucket        string
	PublicBaseURL string
}

// publicPrefixes are readable without credentials so stored URLs keep working.
var publicPrefixes = []string{"scores/*", "profilePictures/*"}

// MinioStore wraps MinIO/S3 interactions for score files and pictures.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	region     string
	publicBase string
}

// NewMinioStore creates a MinIO client.
func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinioStore{
		client:     client,
		bucket:     opts.Bucket,
		region:     opts.Region,
		publicBase: strings.TrimRight(opts.PublicBaseURL, "/"),
	}, nil
}

// EnsureBucket creates the bucket if needed and opens the public prefixes
// for anonymous reads.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucket, readPolicy(s.bucket)); err != nil {
		return fmt.Errorf("set bucket policy %s: %w", s.bucket, err)
	}
	return nil
}

func readPolicy(bucket string) string {
	resources := make([]string, len(publicPrefixes))
	for i, p := range publicPrefixes {
		resources[i] = fmt.Sprintf(`"arn:aws:s3:::%s/%s"`, bucket, p)
	}
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":[%s]}]}`,
		strings.Join(resources, ","))
}

// Put uploads the body, reporting progress as MinIO sends each part.
func (s *MinioStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress ProgressFunc) error {
	if err := validPath(path); err != nil {
		return err
	}
	opts := minio.PutObjectOptions{
		ContentType: contentType,
		Progress:    newProgressReader(size, progress),
	}
	if _, err := s.client.PutObject(ctx, s.bucket, path, r, size, opts); err != nil {
		return fmt.Errorf("put object %s: %w", path, err)
	}
	return nil
}

// Get fetches the object bytes.
func (s *MinioStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return buf, nil
}

// URL returns the public retrieval URL of an existing object.
func (s *MinioStore) URL(ctx context.Context, path string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("stat object %s: %w", path, err)
	}
	return s.publicBase + "/" + s.bucket + "/" + escapePath(path), nil
}

// Delete removes an existing object.
func (s *MinioStore) Delete(ctx context.Context, path string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("stat object %s: %w", path, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

// List returns every object under prefix. The listing is cancelled when it
// stops early so the client's paging goroutine exits.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, info.Err)
		}
		out = append(out, Object{
			Path:         info.Key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}
	return out, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
