// Package publish uploads rendered reports to S3.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bilalbayram/adplan/internal/domain"
	"github.com/bilalbayram/adplan/internal/observability"
	"github.com/bilalbayram/adplan/internal/plan"
)

const DefaultRegion = "us-east-1"

// PutObjectAPI is the part of the S3 client the publisher uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Publisher struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	Logger *slog.Logger
}

// Published lists the object keys written for one report.
type Published struct {
	Bucket string   `json:"bucket"`
	Keys   []string `json:"keys"`
}

// NewS3Publisher builds a publisher on the default AWS credential chain.
func NewS3Publisher(ctx context.Context, bucket string, prefix string, region string, logger *slog.Logger) (*S3Publisher, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if region == "" {
		region = DefaultRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Publisher{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
		Prefix: prefix,
		Logger: observability.OrDiscard(logger),
	}, nil
}

// Publish writes the report as JSON and, when markdown is set, as Markdown
// under <prefix>/<account>/<as-of>/.
func (p *S3Publisher) Publish(ctx context.Context, report *plan.Report, markdown string) (*Published, error) {
	if report == nil {
		return nil, errors.New("report is nil")
	}
	if p.Client == nil || strings.TrimSpace(p.Bucket) == "" {
		return nil, errors.New("s3 publisher requires a client and a bucket")
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	base := ObjectPrefix(p.Prefix, report)
	objects := []struct {
		key         string
		body        []byte
		contentType string
	}{
		{path.Join(base, "action-plan.json"), body, "application/json"},
	}
	if markdown != "" {
		objects = append(objects, struct {
			key         string
			body        []byte
			contentType string
		}{path.Join(base, "action-plan.md"), []byte(markdown), "text/markdown; charset=utf-8"})
	}

	published := &Published{Bucket: p.Bucket}
	for _, object := range objects {
		_, err := p.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.Bucket),
			Key:         aws.String(object.key),
			Body:        bytes.NewReader(object.body),
			ContentType: aws.String(object.contentType),
		})
		if err != nil {
			return published, fmt.Errorf("upload s3://%s/%s: %w", p.Bucket, object.key, err)
		}
		published.Keys = append(published.Keys, object.key)
		observability.OrDiscard(p.Logger).Info("report published",
			"account_id", report.AccountID,
			"bucket", p.Bucket,
			"key", object.key,
			"bytes", len(object.body),
		)
	}
	return published, nil
}

func ObjectPrefix(prefix string, report *plan.Report) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	return path.Join(prefix, report.AccountID, report.AsOf.Format(domain.DateLayout))
}
