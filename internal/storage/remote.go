package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ocr-accuracy-validator/internal/config"
)

// S3API is the subset of the S3 client the remote backend relies on.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Remote keeps files in an S3-compatible bucket (AWS S3, MinIO).
type Remote struct {
	client S3API
	bucket string
	region string
	now    func() time.Time
}

// NewS3Client builds an S3 client honoring a custom endpoint and static credentials.
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

// NewRemote makes sure the bucket exists, creating it when absent.
func NewRemote(ctx context.Context, client S3API, bucket, region string) (*Remote, error) {
	if bucket == "" {
		return nil, errors.New("remote storage requires a bucket")
	}
	r := &Remote{client: client, bucket: bucket, region: region, now: time.Now}
	if err := r.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Remote) ensureBucket(ctx context.Context) error {
	if _, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)}); err == nil {
		return nil
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(r.bucket)}
	if r.region != "" && r.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(r.region),
		}
	}
	_, err := r.client.CreateBucket(ctx, in)
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("create bucket %s: %w", r.bucket, err)
	}
	return nil
}

func (r *Remote) Kind() Kind { return KindRemote }

func (r *Remote) Save(ctx context.Context, subfolder, filename string, data []byte, contentType string) (Ref, error) {
	if subfolder == "" {
		subfolder = DefaultSubfolder
	}
	return r.SaveKey(ctx, joinKey(subfolder, filename), data, contentType)
}

func (r *Remote) SaveKey(ctx context.Context, key string, data []byte, contentType string) (Ref, error) {
	key = NormalizeKey(r.now(), key)
	in := &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := r.client.PutObject(ctx, in); err != nil {
		return Ref{}, fmt.Errorf("put object: %w", err)
	}
	return RemoteRef(r.bucket, key), nil
}

func (r *Remote) Read(ctx context.Context, ref Ref) ([]byte, error) {
	obj, err := r.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (r *Remote) Delete(ctx context.Context, ref Ref) error {
	bucket, err := r.resolve(ref)
	if err != nil {
		return err
	}
	if _, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(ref.Key),
	}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (r *Remote) Open(ctx context.Context, ref Ref) (*Object, error) {
	bucket, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{
		Body:        out.Body,
		ContentType: contentType,
		Size:        aws.ToInt64(out.ContentLength),
		ModTime:     aws.ToTime(out.LastModified),
	}, nil
}

func (r *Remote) resolve(ref Ref) (string, error) {
	if ref.Kind != KindRemote {
		return "", fmt.Errorf("%w: %s ref on remote backend", ErrBackendMismatch, ref.Kind)
	}
	if ref.Bucket == "" {
		return r.bucket, nil
	}
	return ref.Bucket, nil
}
