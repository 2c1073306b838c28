package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config captures the connection parameters for an S3-compatible backend.
type S3Config struct {
	EndpointURL     string `yaml:"endpoint_url"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	BasePrefix      string `yaml:"base_prefix"`
}

// S3 implements Backend over any S3-compatible service via the minio SDK.
type S3 struct {
	client *minio.Client
	cfg    S3Config
}

// NewS3 creates an S3 backend from config and verifies the parameters.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.EndpointURL == "" {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("endpoint_url is required"))
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, wrapError(CodeAuthInvalid, false, fmt.Errorf("credentials are required"))
	}
	if cfg.Bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket is required"))
	}

	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("invalid endpoint URL: %w", err))
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.EndpointURL
	}
	useSSL := cfg.UseSSL
	if u.Scheme == "https" {
		useSSL = true
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("create s3 client: %w", err))
	}
	return &S3{client: client, cfg: cfg}, nil
}

// EnsureBucket verifies the configured bucket exists before a run lands data.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return classifyS3Error(err)
	}
	if !exists {
		return wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket %s not found", s.cfg.Bucket))
	}
	return nil
}

func (s *S3) key(remotePath string) string {
	prefix := strings.Trim(s.cfg.BasePrefix, "/")
	if prefix == "" {
		return strings.TrimPrefix(remotePath, "/")
	}
	return prefix + "/" + strings.TrimPrefix(remotePath, "/")
}

func (s *S3) Upload(ctx context.Context, localPath, remotePath string) error {
	if _, err := os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			return wrapError(CodeObjectNotFound, false, err)
		}
		return wrapError(CodePermissionDenied, false, err)
	}
	_, err := s.client.FPutObject(ctx, s.cfg.Bucket, s.key(remotePath), localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return classifyS3Error(err)
	}
	return nil
}

func (s *S3) Download(ctx context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	if err := s.client.FGetObject(ctx, s.cfg.Bucket, s.key(remotePath), localPath, minio.GetObjectOptions{}); err != nil {
		return classifyS3Error(err)
	}
	return nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	objectCh := s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	})
	for obj := range objectCh {
		if obj.Err != nil {
			return nil, classifyS3Error(obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *S3) Delete(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.key(remotePath), minio.RemoveObjectOptions{}); err != nil {
		return classifyS3Error(err)
	}
	return nil
}

func (s *S3) HealthCheck(ctx context.Context) *HealthReport {
	scratch, err := scratchProbeFile()
	if err != nil {
		return &HealthReport{
			Errors:             []string{err.Error()},
			CheckedPermissions: map[string]bool{"write": false},
		}
	}
	defer os.Remove(scratch)
	defer os.Remove(scratch + ".echo")
	return probeHealth(ctx, s, scratch)
}

// classifyS3Error converts minio-go errors into coded errors with
// retryability hints. Not-found and permission classes never retry.
func classifyS3Error(err error) *Error {
	if err == nil {
		return nil
	}
	if minioErr, ok := err.(minio.ErrorResponse); ok {
		switch minioErr.Code {
		case "NoSuchBucket":
			return wrapError(CodeBucketNotFound, false, err)
		case "NoSuchKey":
			return wrapError(CodeObjectNotFound, false, err)
		case "AccessDenied":
			return wrapError(CodePermissionDenied, false, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return wrapError(CodeAuthInvalid, false, err)
		case "SlowDown", "InternalError", "ServiceUnavailable":
			return wrapError(CodeWriteFailed, true, err)
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "no such key"), strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return wrapError(CodeObjectNotFound, false, err)
	case strings.Contains(errStr, "access denied"), strings.Contains(errStr, "permission"):
		return wrapError(CodePermissionDenied, false, err)
	case strings.Contains(errStr, "invalid access key"), strings.Contains(errStr, "signature"), strings.Contains(errStr, "authentication"):
		return wrapError(CodeAuthInvalid, false, err)
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline"):
		return wrapError(CodeTimeout, true, err)
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "unreachable"), strings.Contains(errStr, "no such host"):
		return wrapError(CodeEndpointUnreachable, true, err)
	}
	return wrapError(CodeWriteFailed, true, err)
}
