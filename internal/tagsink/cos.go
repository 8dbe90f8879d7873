package tagsink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSConfig holds Tencent Cloud COS connection settings.
type COSConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string // e.g. "myqcloud.com"
	Scheme    string // e.g. "https"
}

// COSSink writes snapshot documents to a Tencent Cloud COS bucket.
type COSSink struct {
	client *cos.Client
	bucket string
	region string
	domain string
	scheme string
}

// NewCOSSink creates a COSSink from cfg.
func NewCOSSink(cfg *COSConfig) (*COSSink, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("tagsink: bucket and region are required for COS sink")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("tagsink: credentials are required for COS sink")
	}

	domain := cfg.Domain
	if domain == "" {
		domain = "myqcloud.com"
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}

	bucketURL, err := url.Parse(fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("tagsink: parse bucket URL: %w", err)
	}
	serviceURL, err := url.Parse(fmt.Sprintf("%s://cos.%s.%s", scheme, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("tagsink: parse service URL: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{
		BucketURL:  bucketURL,
		ServiceURL: serviceURL,
	}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})

	return &COSSink{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		domain: domain,
		scheme: scheme,
	}, nil
}

// Write implements Sink by uploading r as the object named key.
func (s *COSSink) Write(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.Object.Put(ctx, key, r, nil)
	if err != nil {
		return fmt.Errorf("tagsink: upload to COS: %w", err)
	}
	return nil
}

// Read downloads the object named key.
func (s *COSSink) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("tagsink: download from COS: %w", err)
	}
	return resp.Body, nil
}

// Exists reports whether an object is present at key.
func (s *COSSink) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.Object.IsExist(ctx, key)
	if err != nil {
		return false, fmt.Errorf("tagsink: check existence in COS: %w", err)
	}
	return ok, nil
}

// GetURL returns the public URL for key.
func (s *COSSink) GetURL(key string) string {
	return fmt.Sprintf("%s://%s.cos.%s.%s/%s", s.scheme, s.bucket, s.region, s.domain, key)
}
