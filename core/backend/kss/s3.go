// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/relabs-tech/testall/core/logger"
)

// S3Configuration contains the configuration for the AWS S3 KSS service
type S3Configuration struct {
	AWSRegion     string
	AWSBucketName string
	AccessID      string
	AccessKey     string
	// Endpoint overrides the AWS endpoint, for S3 compatible stores like minio or localstack
	Endpoint string
	// KeyPrefix is prepended to every key
	KeyPrefix string
}

// S3Credentials are the credentials for the S3 tests, read from the environment
type S3Credentials struct {
	AccessID  string `env:"AWS_ACCESS_ID,optional"`
	AccessKey string `env:"AWS_ACCESS_KEY,optional"`
	Endpoint  string `env:"AWS_ENDPOINT,optional"`
}

// S3 is the implementation of the KSS Driver for AWS S3
type S3 struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	baseKeyName string
}

var _ Driver = (*S3)(nil)

const (
	metaObjectID  = "object-id"
	metaCreatedAt = "created-at"
)

// NewS3 returns a new S3
func NewS3(ctx context.Context, kssConfig S3Configuration) (*S3, error) {
	if kssConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	options := []func(*config.LoadOptions) error{config.WithRegion(kssConfig.AWSRegion)}
	if kssConfig.AccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(kssConfig.AccessID, kssConfig.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if kssConfig.Endpoint != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(kssConfig.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Default().Debugln("KSS S3 enabled")
	return &S3{
		client:      client,
		uploader:    manager.NewUploader(client),
		bucket:      kssConfig.AWSBucketName,
		baseKeyName: kssConfig.KeyPrefix,
	}, nil
}

func (s *S3) objectKey(bucket, key string) string {
	return s.baseKeyName + bucket + "/" + key
}

// List returns the entries directly below prefix
func (s *S3) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	if _, err := CleanKey(bucket); err != nil {
		return nil, ErrNoSuchBucket
	}
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	base := s.baseKeyName + bucket + "/"
	var entries []Object
	var continuationToken *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(base + prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("Could not ListObjectsV2 from", s.bucket)
			return nil, fmt.Errorf("cannot list %s/%s: %w", bucket, prefix, err)
		}
		for _, cp := range resp.CommonPrefixes {
			key := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), base), "/")
			entries = append(entries, Object{Key: key, Name: key[strings.LastIndex(key, "/")+1:], IsFolder: true})
		}
		for _, item := range resp.Contents {
			key := strings.TrimPrefix(aws.ToString(item.Key), base)
			modified := aws.ToTime(item.LastModified)
			entries = append(entries, Object{
				Key:       key,
				Name:      key[strings.LastIndex(key, "/")+1:],
				ID:        s.derivedID(bucket, key),
				Size:      item.Size,
				ETag:      strings.Trim(aws.ToString(item.ETag), `"`),
				CreatedAt: modified,
				UpdatedAt: modified,
			})
		}
		continuationToken = resp.NextContinuationToken
		if continuationToken == nil {
			break
		}
	}
	return entries, nil
}

// Put stores data under key
func (s *S3) Put(ctx context.Context, bucket, key string, data []byte, contentType string, overwrite bool) (*Object, bool, error) {
	if _, err := CleanKey(bucket); err != nil {
		return nil, false, ErrNoSuchBucket
	}
	key, err := CleanKey(key)
	if err != nil {
		return nil, false, err
	}
	objectKey := s.objectKey(bucket, key)
	now := time.Now().UTC()
	createdAt := now
	id := s.derivedID(bucket, key)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	replaced := err == nil
	if err != nil && !isNotFound(err) {
		return nil, false, fmt.Errorf("cannot check for %s: %w", objectKey, err)
	}
	if replaced {
		if !overwrite {
			return nil, false, ErrExists
		}
		if t, err := time.Parse(time.RFC3339Nano, head.Metadata[metaCreatedAt]); err == nil {
			createdAt = t
		}
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			metaObjectID:  id,
			metaCreatedAt: createdAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to upload file, %w", err)
	}
	logger.FromContext(ctx).Infof("S3: stored %s (%d bytes)", objectKey, len(data))
	return &Object{
		Key:         key,
		Name:        key[strings.LastIndex(key, "/")+1:],
		ID:          id,
		Size:        int64(len(data)),
		ContentType: contentType,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}, replaced, nil
}

// derivedID is a stable object ID for listings, which do not carry user metadata
func (s *S3) derivedID(bucket, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("s3://"+s.bucket+"/"+s.objectKey(bucket, key))).String()
}

func isNotFound(err error) bool {
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
