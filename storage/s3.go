// Package storage archiviert Rohdateien der Kuratoren-Uploads und Audit-Exporte in S3.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/berntpopp/kidney-genetics-db-sub000/config"
)

// Archive speichert unveränderliche Objekte unter einem Schlüssel.
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Object beschreibt ein gespeichertes Objekt.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpunkt (z.B. Strato HiDrive).
func NewS3Client(ctx context.Context, endpoint, region, key, secret string) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// S3Archive implementiert Archive auf einem Bucket.
type S3Archive struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Archive erstellt ein Archiv aus der Anwendungs-Konfiguration.
func NewS3Archive(ctx context.Context, cfg *config.Config) (*S3Archive, error) {
	client, err := NewS3Client(ctx, cfg.StratoS3URL, cfg.StratoS3Region, cfg.StratoS3Key, cfg.StratoS3Secret)
	if err != nil {
		return nil, err
	}
	return &S3Archive{client: client, bucket: cfg.StratoS3Bucket, baseURL: strings.TrimRight(cfg.StratoS3URL, "/")}, nil
}

// NewS3ArchiveFromClient erstellt ein Archiv für einen vorhandenen Client.
func NewS3ArchiveFromClient(client *s3.Client, bucket, baseURL string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// Put lädt ein Objekt hoch und gibt den Link zurück.
func (a *S3Archive) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return fmt.Sprintf("%s/%s/%s", a.baseURL, a.bucket, key), nil
}

// List liefert alle Objekte unter prefix, älteste zuerst.
func (a *S3Archive) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", a.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			o := Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.Before(out[j].LastModified) })
	return out, nil
}

// Delete entfernt Objekte.
func (a *S3Archive) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
	}
	_, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(a.bucket),
		Delete: &types.Delete{Objects: ids},
	})
	if err != nil {
		return fmt.Errorf("delete from s3://%s: %w", a.bucket, err)
	}
	return nil
}

// UploadKey ist der inhaltsadressierte Schlüssel einer Upload-Datei.
func UploadKey(source, contentHash, filename string) string {
	return path.Join("uploads", source, contentHash+strings.ToLower(path.Ext(filename)))
}

// RotatingArchive kann alte Objekte auflisten und löschen.
type RotatingArchive interface {
	Archive
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, keys ...string) error
}

// Rotate behält die keep neuesten Objekte unter prefix und löscht den Rest.
func Rotate(ctx context.Context, a RotatingArchive, prefix string, keep int) ([]string, error) {
	objects, err := a.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if keep < 1 {
		keep = 1
	}
	if len(objects) <= keep {
		return nil, nil
	}
	// List liefert älteste zuerst
	var stale []string
	for _, obj := range objects[:len(objects)-keep] {
		stale = append(stale, obj.Key)
	}
	if err := a.Delete(ctx, stale...); err != nil {
		return nil, err
	}
	return stale, nil
}
