package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/akave-ai/incidentd/internal/config"
	"github.com/akave-ai/incidentd/internal/model"
)

const archivePrefix = "incidents"

// ErrNotConfigured is returned by O3Client methods that need a bucket when none is configured.
var ErrNotConfigured = errors.New("o3 client not configured")

// O3Client uploads and downloads objects from Akave O3 (S3-compatible API).
type O3Client struct {
	client *s3.Client
	bucket string
}

// NewO3Client builds an S3-compatible client for the given O3 config.
// Returns nil if cfg is nil or endpoint/bucket are empty.
func NewO3Client(cfg *config.O3Config) (*O3Client, error) {
	if cfg == nil || cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &O3Client{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if HeadBucket cannot see it.
func (c *O3Client) EnsureBucket(ctx context.Context) error {
	if c == nil {
		return nil
	}
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := c.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if createErr != nil {
		var apiErr smithy.APIError
		if errors.As(createErr, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return createErr
	}
	return nil
}

// PutObject uploads data to key.
func (c *O3Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if c == nil {
		return ErrNotConfigured
	}
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

// ObjectInfo describes an object in O3 (for list response).
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListObjects lists objects under prefix. Returns nil, nil if client is nil.
func (c *O3Client) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if c == nil {
		return nil, nil
	}
	out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, err
	}
	result := make([]ObjectInfo, 0, len(out.Contents))
	for _, o := range out.Contents {
		info := ObjectInfo{Key: aws.ToString(o.Key), Size: aws.ToInt64(o.Size)}
		if o.LastModified != nil {
			info.LastModified = *o.LastModified
		}
		result = append(result, info)
	}
	return result, nil
}

// GetObject downloads an object by key.
func (c *O3Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("object %s: %w", key, model.ErrNotFound)
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// ArchivedIncident is the document stored for a closed incident.
type ArchivedIncident struct {
	Incident   *model.Incident       `json:"incident"`
	Events     []model.IncidentEvent `json:"events"`
	ArchivedAt time.Time             `json:"archived_at"`
}

// KeyForIncident returns incidents/<service>/<yyyy/mm/dd>/<id>.json.gz, dated by first sighting.
func KeyForIncident(inc *model.Incident) string {
	service := strings.ReplaceAll(strings.TrimSpace(inc.ServiceName), "/", "_")
	if service == "" {
		service = "unknown"
	}
	return path.Join(archivePrefix, service, inc.FirstSeenAt.UTC().Format("2006/01/02"), inc.ID.String()+".json.gz")
}

// ArchiveIncident uploads inc and its events as gzip JSON and returns the key.
func (c *O3Client) ArchiveIncident(ctx context.Context, inc *model.Incident, events []model.IncidentEvent) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}
	data, err := encodeArchive(ArchivedIncident{Incident: inc, Events: events, ArchivedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	key := KeyForIncident(inc)
	if err := c.PutObject(ctx, key, data, "application/gzip"); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// GetArchivedIncident downloads and decodes one archive document.
func (c *O3Client) GetArchivedIncident(ctx context.Context, key string) (*ArchivedIncident, error) {
	raw, err := c.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeArchive(raw)
}

func encodeArchive(doc ArchivedIncident) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeArchive(raw []byte) (*ArchivedIncident, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	var doc ArchivedIncident
	if err := json.NewDecoder(zr).Decode(&doc); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return &doc, nil
}
