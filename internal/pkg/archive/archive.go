package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archive stores raw provider callback payloads in S3-compatible
// object storage for audit and dispute resolution. It is best-effort:
// callers log failures and keep reconciling.
type Archive struct {
	client *s3.Client
	bucket string
}

// Config holds S3-compatible storage configuration (Cloudflare R2 in
// production).
type Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
}

// New creates an object-storage backed archive
func New(cfg Config) (*Archive, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.AccessKeySecret,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive config: %w", err)
	}

	return &Archive{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.BucketName,
	}, nil
}

// StoreCallback writes one raw webhook body under
// webhooks/<provider>/<date>/<ref>-<ts>.json and returns the object key.
func (a *Archive) StoreCallback(ctx context.Context, provider, externalRef string, body []byte) (string, error) {
	now := time.Now().UTC()
	key := fmt.Sprintf("webhooks/%s/%s/%s-%d.json", provider, now.Format("2006-01-02"), externalRef, now.UnixNano())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive callback: %w", err)
	}
	return key, nil
}
