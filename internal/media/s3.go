// internal/media/s3.go
// Package media provides S3-compatible storage for wardrobe item photos and
// generated try-on images. Item photos arrive as data URIs from the client
// and are persisted as durable objects; the stored URL replaces the data URI
// before the item is pushed to the remote store.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	sverrors "github.com/stylevault/stylevault-go/internal/errors"
)

// S3Client wraps the AWS S3 client for media operations.
// It supports both AWS S3 and S3-compatible services like MinIO.
type S3Client struct {
	client *s3.Client // AWS S3 client
	bucket string     // S3 bucket name for media storage
}

// NewS3Client creates a new S3 client for media operations.
func NewS3Client(endpoint, region, bucket, accessKey, secretKey string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO and other S3-compatible services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Client{
		client: client,
		bucket: bucket,
	}, nil
}

// ItemImageKey returns the object key for a wardrobe item photo.
func ItemImageKey(userID, itemID string) string {
	return fmt.Sprintf("users/%s/wardrobe/%s.jpg", userID, itemID)
}

// GalleryImageKey returns the object key for a generated try-on image.
func GalleryImageKey(userID, galleryID string) string {
	return fmt.Sprintf("users/%s/gallery/%s.jpg", userID, galleryID)
}

// UploadItemImage stores a wardrobe item photo and returns its object URL.
// The image is given as a data URI or raw base64 payload.
func (s *S3Client) UploadItemImage(ctx context.Context, userID, itemID, dataURI string) (string, error) {
	return s.upload(ctx, ItemImageKey(userID, itemID), dataURI)
}

// UploadGalleryImage stores a generated try-on image and returns its object URL.
func (s *S3Client) UploadGalleryImage(ctx context.Context, userID, galleryID, dataURI string) (string, error) {
	return s.upload(ctx, GalleryImageKey(userID, galleryID), dataURI)
}

func (s *S3Client) upload(ctx context.Context, key, dataURI string) (string, error) {
	payload, contentType, err := decodeDataURI(dataURI)
	if err != nil {
		return "", sverrors.Wrap(sverrors.SV_DATA, "decode image payload", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", classify(err, "upload image")
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// DeleteItemImage removes a wardrobe item photo. Deleting an absent object
// succeeds, so item deletion can always be retried.
func (s *S3Client) DeleteItemImage(ctx context.Context, userID, itemID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ItemImageKey(userID, itemID)),
	})
	if err != nil {
		return classify(err, "delete item image")
	}
	return nil
}

// GenerateDownloadURL generates a presigned GET URL so clients can fetch an
// image without streaming it through the service.
func (s *S3Client) GenerateDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	presignResult, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignResult.URL, nil
}

// decodeDataURI splits a "data:<type>;base64,<payload>" URI into its decoded
// payload and content type. A bare base64 string is accepted as JPEG.
func decodeDataURI(uri string) ([]byte, string, error) {
	contentType := "image/jpeg"
	encoded := uri
	if strings.HasPrefix(uri, "data:") {
		header, rest, found := strings.Cut(uri[len("data:"):], ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data URI")
		}
		if mediaType, ok := strings.CutSuffix(header, ";base64"); ok {
			if mediaType != "" {
				contentType = mediaType
			}
		} else {
			return nil, "", fmt.Errorf("data URI is not base64 encoded")
		}
		encoded = rest
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	return payload, contentType, nil
}

// classify maps S3 failures onto the service failure classes.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return sverrors.Wrap(sverrors.SV_PERMISSION, op, err)
		}
	}
	return sverrors.Wrap(sverrors.SV_UNAVAILABLE, op, err)
}
