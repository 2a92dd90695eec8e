// Package s3upload publishes images as public-read objects in an S3 bucket.
package s3upload

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"trendcast/internal/domain"
	"trendcast/internal/observability"
)

type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Uploader struct {
	Client PutObjectAPI
	Bucket string
	Region string
	// Endpoint, when set (LocalStack), builds path-style URLs against it.
	Endpoint string
}

func (u *Uploader) Upload(ctx context.Context, name string, image []byte) (string, error) {
	if u.Bucket == "" {
		observability.Uploads.WithLabelValues("s3", "error").Inc()
		return "", &domain.UploadError{Host: "s3", Err: errors.New("S3_BUCKET_NAME is not set")}
	}
	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(image),
		ContentType: aws.String("image/png"),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		observability.Uploads.WithLabelValues("s3", "error").Inc()
		return "", &domain.UploadError{Host: "s3", Err: err}
	}
	observability.Uploads.WithLabelValues("s3", "ok").Inc()
	return u.PublicURL(name), nil
}

func (u *Uploader) PublicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if u.Endpoint != "" {
		return strings.TrimRight(u.Endpoint, "/") + "/" + u.Bucket + "/" + escaped
	}
	region := u.Region
	if region == "" {
		region = "us-east-1"
	}
	return "https://" + u.Bucket + ".s3." + region + ".amazonaws.com/" + escaped
}
