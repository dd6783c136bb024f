// Package blob stores message attachments in S3-compatible object
// storage.
package blob

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Service uploads attachment files and hands back public URLs.
type Service struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the externally reachable base for object links,
	// e.g. a CDN or the minio endpoint itself.
	PublicURL string
}

func New(cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	s := &Service{client: client, bucket: cfg.Bucket, publicURL: publicURL}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ensureBucket(ctx); err != nil {
		// Storage being down must not block startup; uploads will
		// fail until it recovers.
		log.Printf("blob: ensure bucket %s: %v", cfg.Bucket, err)
	}
	return s, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// Upload stores one attachment under a key derived from its owner and
// message so concurrent uploads of identically named files never
// collide. Returns the public URL of the stored object.
func (s *Service) Upload(ctx context.Context, ownerID, messageID, filename, contentType string, size int64, r io.Reader) (string, error) {
	key := objectKey(ownerID, messageID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

// Remove deletes a stored object by its public URL. Unknown URLs are
// ignored.
func (s *Service) Remove(ctx context.Context, fileURL string) error {
	key, ok := strings.CutPrefix(fileURL, s.publicURL+"/")
	if !ok {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func objectKey(ownerID, messageID, filename string) string {
	ext := path.Ext(filename)
	name := fmt.Sprintf("%d%s", time.Now().UnixNano(), ext)
	return url.PathEscape(ownerID) + "/" + url.PathEscape(messageID) + "/" + name
}
