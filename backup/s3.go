package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3Vault stores archives in an S3-compatible bucket (AWS, MinIO).
type S3Vault struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Vault(ctx context.Context, opts S3Options) (*S3Vault, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// S3-compatible servers do not all speak the flexible checksum protocol.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Vault{client: client, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/")}, nil
}

func (v *S3Vault) key(name string) string {
	if v.prefix == "" {
		return name
	}
	return v.prefix + "/" + name
}

func (v *S3Vault) Put(ctx context.Context, name string, r io.Reader) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	body, err := io.ReadAll(io.LimitReader(r, MaxArchiveSize+1))
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	_, err = v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(v.key(name)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func (v *S3Vault) List(ctx context.Context) ([]Info, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(v.bucket)}
	if v.prefix != "" {
		input.Prefix = aws.String(v.prefix + "/")
	}

	var infos []Info
	p := s3.NewListObjectsV2Paginator(v.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if !ValidName(name) {
				continue
			}
			infos = append(infos, Info{
				Name:    name,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	sortNewestFirst(infos)
	return infos, nil
}

func (v *S3Vault) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	return out.Body, nil
}
