package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Object metadata keys.
const (
	metaViewID   = "view-id"
	metaTarget   = "target"
	metaMethod   = "method"
	metaChecksum = "checksum"
	metaCreated  = "created-at"
)

// S3Store stores transfers in an S3 bucket under a key prefix.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	st := store.NewS3Store(s3.NewFromConfig(cfg), "engine-transfers", "inbound/", 64<<20)
type S3Store struct {
	client    S3API
	presign   *s3.PresignClient
	bucket    string
	prefix    string
	maxSize   int64
	urlExpiry time.Duration
}

// NewS3Store creates an S3 store. When client is an *s3.Client, Open also
// returns a presigned download URL.
func NewS3Store(client S3API, bucket, prefix string, maxSize int64) *S3Store {
	s := &S3Store{
		client:    client,
		bucket:    bucket,
		prefix:    prefix,
		maxSize:   maxSize,
		urlExpiry: time.Hour,
	}
	if c, ok := client.(*s3.Client); ok {
		s.presign = s3.NewPresignClient(c)
	}
	return s
}

// WithURLExpiry sets how long presigned URLs are valid.
func (s *S3Store) WithURLExpiry(d time.Duration) *S3Store {
	s.urlExpiry = d
	return s
}

func (s *S3Store) key(id string) string {
	return s.prefix + id
}

// Save implements Store. The payload is buffered before upload.
func (s *S3Store) Save(ctx context.Context, meta Meta, r io.Reader) error {
	if err := validID(meta.ID); err != nil {
		return err
	}
	if s.maxSize > 0 && meta.Size > s.maxSize {
		return ErrTooLarge
	}

	var buf bytes.Buffer
	reader := r
	if s.maxSize > 0 {
		reader = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(&buf, reader)
	if err != nil {
		return err
	}
	if s.maxSize > 0 && n > s.maxSize {
		return ErrTooLarge
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(meta.ID)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			metaViewID:   strconv.FormatInt(meta.ViewID, 10),
			metaTarget:   meta.Target,
			metaMethod:   meta.Method,
			metaChecksum: strconv.FormatUint(uint64(meta.Checksum), 10),
			metaCreated:  meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("store: s3 upload failed: %w", err)
	}
	return nil
}

// Open implements Store.
func (s *S3Store) Open(ctx context.Context, id string) (*Object, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	key := s.key(id)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	get, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	meta := metaFromS3(id, head.Metadata)
	if head.ContentLength != nil {
		meta.Size = *head.ContentLength
	}

	obj := &Object{Meta: meta, Reader: get.Body}
	if s.presign != nil {
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.urlExpiry))
		if err == nil {
			obj.URL = req.URL
		}
	}
	return obj, nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	return err
}

// Cleanup implements Store.
func (s *S3Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var expired []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				expired = append(expired, *obj.Key)
			}
		}
	}

	removed := 0
	for _, key := range expired {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func metaFromS3(id string, md map[string]string) Meta {
	meta := Meta{ID: id, Target: md[metaTarget], Method: md[metaMethod]}
	if v, err := strconv.ParseInt(md[metaViewID], 10, 64); err == nil {
		meta.ViewID = v
	}
	if v, err := strconv.ParseUint(md[metaChecksum], 10, 32); err == nil {
		meta.Checksum = uint32(v)
	}
	if t, err := time.Parse(time.RFC3339Nano, md[metaCreated]); err == nil {
		meta.CreatedAt = t
	}
	return meta
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

var _ Store = (*S3Store)(nil)
