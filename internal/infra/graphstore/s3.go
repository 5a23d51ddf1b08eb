// Package graphstore implements the PersistentGraphStore and Lock
// capabilities (spec §3 "Persistent graph object", §9 "Persistent graph
// lock") against S3 (graph JSON) and DynamoDB (lock table), grounded on
// opentofu-opentofu's S3 backend + DynamoDB lock table pairing
// (internal/backend/remote-state/s3).
package graphstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/stackctl/stackctl/internal/domain/graph"
	awsinfra "github.com/stackctl/stackctl/internal/infra/aws"
	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
)

type s3Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store implements ports.PersistentGraphStore against a single S3 bucket.
type Store struct {
	Bucket string
	client s3Client
}

var _ ports.PersistentGraphStore = (*Store)(nil)

// NewStore returns a Store backed by real S3 clients cached per region.
func NewStore(bucket, region string, configs *awsinfra.ConfigCache) *Store {
	return &Store{Bucket: bucket, client: &lazyS3Client{configs: configs, region: region}}
}

// Load implements ports.PersistentGraphStore.Load. A missing object is not
// an error: it means no prior graph exists yet (first build).
func (s *Store) Load(ctx context.Context, key string) (*graph.Graph, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return graph.New(), nil
		}
		return nil, &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "failed to load persistent graph", Cause: err, Context: map[string]interface{}{"bucket": s.Bucket, "key": key}}
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "failed to read persistent graph body", Cause: err}
	}
	g := graph.New()
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeConfig, Message: "persistent graph document is corrupt", Cause: err, Context: map[string]interface{}{"key": key}}
	}
	return g, nil
}

// Save implements ports.PersistentGraphStore.Save. lockToken is accepted
// for interface symmetry with Lock, but S3 has no native conditional-PUT
// short of object-lock/versioning: the Lock capability (below) is what
// actually serializes concurrent writers (spec §9).
func (s *Store) Save(ctx context.Context, key string, g *graph.Graph, lockToken string) error {
	data, err := g.MarshalJSON()
	if err != nil {
		return &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "failed to marshal persistent graph", Cause: err}
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket), Key: aws.String(key), Body: bytes.NewReader(data),
	}); err != nil {
		return &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "failed to save persistent graph", Cause: err, Context: map[string]interface{}{"bucket": s.Bucket, "key": key}}
	}
	return nil
}

type lazyS3Client struct {
	configs *awsinfra.ConfigCache
	region  string
	real    s3Client
}

func (l *lazyS3Client) resolve(ctx context.Context) (s3Client, error) {
	if l.real == nil {
		cfg, err := l.configs.Get(ctx, l.region, "")
		if err != nil {
			return nil, err
		}
		l.real = s3.NewFromConfig(cfg)
	}
	return l.real, nil
}

func (l *lazyS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetObject(ctx, in, optFns...)
}

func (l *lazyS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return c.PutObject(ctx, in, optFns...)
}

// dynamoLockClient is the narrow DynamoDB surface the lock table driver
// uses, following the same per-service-interface pattern as the provider
// adapter.
type dynamoLockClient interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoLock implements ports.Lock via conditional writes against a
// DynamoDB table keyed by lock name, mirroring the lock-table pattern
// opentofu-opentofu's S3 backend uses for state locking.
type DynamoLock struct {
	Table  string
	client dynamoLockClient
}

var _ ports.Lock = (*DynamoLock)(nil)

// NewDynamoLock returns a DynamoLock backed by a real DynamoDB client.
func NewDynamoLock(table, region string, configs *awsinfra.ConfigCache) *DynamoLock {
	return &DynamoLock{Table: table, client: &lazyDynamoClient{configs: configs, region: region}}
}

// Acquire implements ports.Lock.Acquire: a conditional PutItem that only
// succeeds if no lock row exists, or the existing row has expired.
func (l *DynamoLock) Acquire(ctx context.Context, key string, ttl int64) (string, error) {
	token := uuid.NewString()
	expires := time.Now().Add(time.Duration(ttl) * time.Second).Unix()

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.Table),
		Item: map[string]ddbtypes.AttributeValue{
			"LockID":    &ddbtypes.AttributeValueMemberS{Value: key},
			"Token":     &ddbtypes.AttributeValueMemberS{Value: token},
			"ExpiresAt": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":now": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
		},
	})
	if err != nil {
		var cce *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return "", &stackset.DomainError{Code: stackset.ErrCodeLockHeld, Message: "persistent graph lock is held", Context: map[string]interface{}{"key": key}}
		}
		return "", &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "failed to acquire lock", Cause: err}
	}
	return token, nil
}

// Release implements ports.Lock.Release: a conditional DeleteItem that
// only succeeds if the caller still holds the current token.
func (l *DynamoLock) Release(ctx context.Context, key, token string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.Table),
		Key:       map[string]ddbtypes.AttributeValue{"LockID": &ddbtypes.AttributeValueMemberS{Value: key}},
		ConditionExpression:       aws.String("Token = :token"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{":token": &ddbtypes.AttributeValueMemberS{Value: token}},
	})
	if err != nil {
		var cce *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return &stackset.DomainError{Code: stackset.ErrCodeLockHeld, Message: "lock token mismatch on release", Context: map[string]interface{}{"key": key}}
		}
		return &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "failed to release lock", Cause: err}
	}
	return nil
}

// Renew implements ports.Lock.Renew: a conditional PutItem that extends
// ExpiresAt only if token still matches the held row.
func (l *DynamoLock) Renew(ctx context.Context, key, token string, ttl int64) error {
	expires := time.Now().Add(time.Duration(ttl) * time.Second).Unix()
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.Table),
		Item: map[string]ddbtypes.AttributeValue{
			"LockID":    &ddbtypes.AttributeValueMemberS{Value: key},
			"Token":     &ddbtypes.AttributeValueMemberS{Value: token},
			"ExpiresAt": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)},
		},
		ConditionExpression:       aws.String("Token = :token"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{":token": &ddbtypes.AttributeValueMemberS{Value: token}},
	})
	if err != nil {
		var cce *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return &stackset.DomainError{Code: stackset.ErrCodeLockHeld, Message: "lock token mismatch on renew", Context: map[string]interface{}{"key": key}}
		}
		return &stackset.DomainError{Code: stackset.ErrCodeInternal, Message: "failed to renew lock", Cause: err}
	}
	return nil
}

type lazyDynamoClient struct {
	configs *awsinfra.ConfigCache
	region  string
	real    dynamoLockClient
}

func (l *lazyDynamoClient) resolve(ctx context.Context) (dynamoLockClient, error) {
	if l.real == nil {
		cfg, err := l.configs.Get(ctx, l.region, "")
		if err != nil {
			return nil, err
		}
		l.real = dynamodb.NewFromConfig(cfg)
	}
	return l.real, nil
}

func (l *lazyDynamoClient) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	c, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return c.PutItem(ctx, in, optFns...)
}

func (l *lazyDynamoClient) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	c, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return c.DeleteItem(ctx, in, optFns...)
}

func (l *lazyDynamoClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetItem(ctx, in, optFns...)
}
