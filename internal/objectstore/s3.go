package objectstore

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // object integrity check, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Store implements Store against an S3-compatible endpoint (including
// MinIO and other on-prem deployments), following the S3 client
// construction pattern used elsewhere in the retrieved pack.
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Config configures the S3-compatible endpoint.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// NewS3Store builds an S3Store from static credentials and an optional
// custom endpoint (for non-AWS S3-compatible services).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err == nil {
		return true, nil
	}

	if isNotFound(err) {
		return false, nil
	}

	return false, fmt.Errorf("objectstore: head %s: %w", key, err)
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: reading %s: %w", key, err)
	}

	return data, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}

	// ETag is the MD5 of the body for a single-part PutObject; a mismatch
	// means the bytes were corrupted in transit even though the call
	// returned success.
	if etag := etagMD5(out.ETag); etag != "" && etag != md5Hex(data) {
		return fmt.Errorf("objectstore: put %s: etag mismatch, upload may be corrupt", key)
	}

	return nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (*Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("objectstore: stat %s: %w", key, err)
	}

	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}

	return &Info{Size: size, MD5: etagMD5(out.ETag)}, nil
}

// etagMD5 extracts the MD5 hex digest from an S3 ETag, returning "" for
// multipart-upload ETags (which carry a "-N" suffix and are not a plain MD5).
func etagMD5(etag *string) string {
	if etag == nil {
		return ""
	}

	v := strings.Trim(*etag, `"`)
	if strings.Contains(v, "-") {
		return ""
	}

	return v
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}

	return false
}

// md5Hex computes the lowercase hex MD5 digest, matching the attachment
// round-trip check applied against the Zotero API's own md5 field.
func md5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // see import comment
	return hex.EncodeToString(sum[:])
}
