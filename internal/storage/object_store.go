package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"odaiboard/internal/config"
	"odaiboard/internal/models"
)

// SubmissionPrefix is the root of every uploaded contest image.
const SubmissionPrefix = "submissions/"

const cacheControl = "public,max-age=3600"

type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

func (s *ObjectStore) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.cfg.BucketOriginals, s.cfg.BucketVariants} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("bucket exists %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Ping checks that the originals bucket is reachable.
func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.cfg.BucketOriginals)
	return err
}

var whitespace = regexp.MustCompile(`\s+`)

// SubmissionKey builds submissions/{topicId}/{userId}/{unixMillis}_{name}.
func SubmissionKey(topicID, userID, filename string, now time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "image.jpg"
	}
	name = whitespace.ReplaceAllString(name, "_")
	return fmt.Sprintf("%s%s/%s/%d_%s", SubmissionPrefix, topicID, userID, now.UnixMilli(), name)
}

// TopicIDFromKey extracts the topic segment of a submission key.
func TopicIDFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, SubmissionPrefix)
	if !ok {
		return "", false
	}
	topicID, _, ok := strings.Cut(rest, "/")
	return topicID, ok && topicID != ""
}

// Upload stores an original image. onProgress, when set, receives the
// percentage of bytes sent.
func (s *ObjectStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, onProgress func(percent int)) (string, error) {
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	}
	if onProgress != nil && size > 0 {
		opts.Progress = &progress{total: size, report: onProgress, last: -1}
	}

	if _, err := s.client.PutObject(ctx, s.cfg.BucketOriginals, key, r, size, opts); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.PublicURL(s.cfg.BucketOriginals, key), nil
}

// Open reads an original image.
func (s *ObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.BucketOriginals, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return obj, nil
}

// PutThumbnail stores the variant of an original image.
func (s *ObjectStore) PutThumbnail(ctx context.Context, originalKey string, r io.Reader, size int64, contentType string) (string, error) {
	key := models.ThumbnailPath(originalKey)
	opts := minio.PutObjectOptions{ContentType: contentType, CacheControl: cacheControl}
	if _, err := s.client.PutObject(ctx, s.cfg.BucketVariants, key, r, size, opts); err != nil {
		return "", fmt.Errorf("put thumbnail %s: %w", key, err)
	}
	return s.PublicURL(s.cfg.BucketVariants, key), nil
}

// DeleteByPath removes an original image and its thumbnail. Missing objects
// are not an error.
func (s *ObjectStore) DeleteByPath(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.remove(ctx, s.cfg.BucketOriginals, key); err != nil {
		return err
	}
	return s.remove(ctx, s.cfg.BucketVariants, models.ThumbnailPath(key))
}

func (s *ObjectStore) remove(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err == nil || minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return fmt.Errorf("remove %s/%s: %w", bucket, key, err)
}

// ListKeys returns the keys of originals under prefix.
func (s *ObjectStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.cfg.BucketOriginals, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *ObjectStore) PublicURL(bucket, key string) string {
	base := strings.TrimSuffix(s.cfg.PublicBaseURL, "/")
	if base == "" {
		base = strings.TrimSuffix(s.cfg.Endpoint, "/")
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			scheme := "http://"
			if s.cfg.UseSSL {
				scheme = "https://"
			}
			base = scheme + base
		}
	}
	return fmt.Sprintf("%s/%s/%s", base, bucket, key)
}

// progress receives the bytes minio has sent through Read.
type progress struct {
	total  int64
	sent   int64
	last   int
	report func(percent int)
}

func (p *progress) Read(b []byte) (int, error) {
	p.sent += int64(len(b))
	percent := int(p.sent * 100 / p.total)
	if percent > 100 {
		percent = 100
	}
	if percent != p.last {
		p.last = percent
		p.report(percent)
	}
	return len(b), nil
}
