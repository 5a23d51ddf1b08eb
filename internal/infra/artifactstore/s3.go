// Package artifactstore implements the ArtifactStore capability (spec §1)
// against S3, grounded on opentofu-opentofu's s3 remote-state backend
// client construction.
package artifactstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	awsinfra "github.com/stackctl/stackctl/internal/infra/aws"
	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
)

type s3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store stages oversized templates to a fixed bucket/region (spec
// §4.F's artifact_bucket/artifact_region config fields).
type S3Store struct {
	Bucket string
	Region string
	client s3Client
}

var _ ports.ArtifactStore = (*S3Store)(nil)

// New returns an S3Store. client is resolved lazily on first Put via
// configs, unless overridden (used by tests).
func New(bucket, region string, configs *awsinfra.ConfigCache) *S3Store {
	return &S3Store{Bucket: bucket, Region: region, client: &lazyClient{configs: configs, region: region}}
}

// Put implements ports.ArtifactStore.Put.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) (string, error) {
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}); err != nil {
		return "", &stackset.DomainError{
			Code: stackset.ErrCodeInternal, Message: "failed to upload artifact to s3", Cause: err,
			Context: map[string]interface{}{"bucket": s.Bucket, "key": key},
		}
	}
	region := s.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.Bucket, region, key), nil
}

// lazyClient defers real client construction until the first call, since
// the configured region/profile is only known once (no per-stack
// variation: the artifact bucket is a single fixed resource).
type lazyClient struct {
	configs *awsinfra.ConfigCache
	region  string
	real    s3Client
}

func (l *lazyClient) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if l.real == nil {
		cfg, err := l.configs.Get(ctx, l.region, "")
		if err != nil {
			return nil, err
		}
		l.real = s3.NewFromConfig(cfg)
	}
	return l.real.PutObject(ctx, in, optFns...)
}
