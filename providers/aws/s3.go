package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stackform-io/stackform/internal/provider"
)

// createBucket provisions an S3 bucket. CreateBucket is idempotent when we
// already own the bucket, which makes re-runs after a partial apply safe.
func (p *Provider) createBucket(ctx context.Context, name string, attrs map[string]any) (string, map[string]any, error) {
	bucket := strAttr(attrs, "bucket")
	if bucket == "" {
		bucket = name
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if p.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}
	if _, err := p.s3Client.CreateBucket(ctx, input); err != nil {
		if !isAPIError(err, "BucketAlreadyOwnedByYou") {
			return "", nil, classify(err, "failed to create bucket %s", bucket)
		}
	}

	if boolAttr(attrs, "versioning") {
		if err := p.putBucketVersioning(ctx, bucket, true); err != nil {
			return "", nil, err
		}
	}

	outputs := withComputed(attrs, map[string]any{
		"bucket": bucket,
		"arn":    bucketARN(bucket),
	})
	return bucket, outputs, nil
}

// updateBucket only toggles versioning; a rename is a replacement decided
// at diff time.
func (p *Provider) updateBucket(ctx context.Context, bucket string, attrs map[string]any) (map[string]any, error) {
	if err := p.putBucketVersioning(ctx, bucket, boolAttr(attrs, "versioning")); err != nil {
		return nil, err
	}
	return withComputed(attrs, map[string]any{
		"bucket": bucket,
		"arn":    bucketARN(bucket),
	}), nil
}

func (p *Provider) deleteBucket(ctx context.Context, bucket string) error {
	_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if isAPIError(err, "NoSuchBucket", "NotFound") {
			return &provider.NotFoundError{Type: TypeBucket, RemoteID: bucket}
		}
		return classify(err, "failed to delete bucket %s", bucket)
	}
	return nil
}

func (p *Provider) readBucket(ctx context.Context, bucket string) (map[string]any, error) {
	_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if isAPIError(err, "NotFound", "NoSuchBucket") {
			return nil, &provider.NotFoundError{Type: TypeBucket, RemoteID: bucket}
		}
		return nil, classify(err, "failed to read bucket %s", bucket)
	}

	versioning := false
	if resp, err := p.s3Client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(bucket),
	}); err == nil {
		versioning = resp.Status == s3types.BucketVersioningStatusEnabled
	}

	return map[string]any{
		"bucket":     bucket,
		"versioning": versioning,
		"arn":        bucketARN(bucket),
	}, nil
}

func (p *Provider) putBucketVersioning(ctx context.Context, bucket string, enabled bool) error {
	status := s3types.BucketVersioningStatusSuspended
	if enabled {
		status = s3types.BucketVersioningStatusEnabled
	}
	_, err := p.s3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: status,
		},
	})
	if err != nil {
		return classify(err, "failed to set versioning on bucket %s", bucket)
	}
	return nil
}

func bucketARN(bucket string) string {
	return fmt.Sprintf("arn:aws:s3:::%s", bucket)
}
