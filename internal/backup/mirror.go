package backup

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
)

// Mirror receives a copy of every verified archive.
type Mirror interface {
	// Name identifies the target in logs and reports.
	Name() string
	// Key returns the object key for a host's archive file.
	Key(host, filename string) string
	// Upload stores the file at localPath under key.
	Upload(ctx context.Context, key, localPath string) error
	// Check verifies the target is reachable and writable.
	Check(ctx context.Context) error
}

// MirrorKey returns the object key for a host's archive.
func MirrorKey(prefix, host, filename string) string {
	return strings.TrimPrefix(path.Join(prefix, host, filename), "/")
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// BucketPath is an optional path prefix within the bucket (e.g., "production/volumes")
	BucketPath  string
	HTTPTimeout time.Duration
}

// MinioMirror uploads archives to a MinIO or other S3-compatible bucket.
type MinioMirror struct {
	config *MinioConfig
	client *minio.Client
}

// NewMinioMirror creates the client; the bucket is checked by Check.
func NewMinioMirror(config *MinioConfig) (*MinioMirror, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	}
	if config.HTTPTimeout > 0 {
		transport, err := minio.DefaultTransport(config.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Minio transport: %w", err)
		}
		transport.ResponseHeaderTimeout = config.HTTPTimeout
		opts.Transport = transport
	}

	client, err := minio.New(config.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Minio client: %w", err)
	}
	return &MinioMirror{config: config, client: client}, nil
}

func (m *MinioMirror) Name() string {
	return fmt.Sprintf("minio://%s/%s", m.config.Endpoint, m.config.Bucket)
}

// Key applies the configured bucket path to a host archive.
func (m *MinioMirror) Key(host, filename string) string {
	return MirrorKey(m.config.BucketPath, host, filename)
}

func (m *MinioMirror) Upload(ctx context.Context, key, localPath string) error {
	_, err := m.client.FPutObject(ctx, m.config.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return fmt.Errorf("failed to upload to Minio: %w", err)
	}
	return nil
}

func (m *MinioMirror) Check(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.config.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", m.config.Bucket)
	}

	testObjectName := MirrorKey(m.config.BucketPath, "", fmt.Sprintf(".connection-test-%d.txt", time.Now().Unix()))
	content := "connection test written by volbackup"
	if _, err := m.client.PutObject(ctx, m.config.Bucket, testObjectName, strings.NewReader(content),
		int64(len(content)), minio.PutObjectOptions{ContentType: "text/plain"}); err != nil {
		return fmt.Errorf("failed to write test object: %w", err)
	}
	if err := m.client.RemoveObject(ctx, m.config.Bucket, testObjectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete test object: %w", err)
	}
	return nil
}

type GlacierConfig struct {
	Vault       string
	AccountID   string
	AccessKey   string
	SecretKey   string
	Region      string
	HTTPTimeout time.Duration
}

// GlacierMirror uploads archives to an AWS Glacier vault. Single-request
// uploads are limited to 4 GiB by the service.
type GlacierMirror struct {
	config *GlacierConfig
	client *glacier.Client
}

// NewGlacierMirror loads AWS configuration with static credentials when they
// are given, and the default credential chain otherwise.
func NewGlacierMirror(ctx context.Context, config *GlacierConfig) (*GlacierMirror, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			IdleConnTimeout:     5 * time.Minute,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
		Timeout: config.HTTPTimeout,
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
		awsconfig.WithHTTPClient(httpClient),
	}
	if config.AccessKey != "" && config.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			awscredentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &GlacierMirror{config: config, client: glacier.NewFromConfig(cfg)}, nil
}

func (g *GlacierMirror) accountID() string {
	if g.config.AccountID == "" {
		return "-"
	}
	return g.config.AccountID
}

func (g *GlacierMirror) Name() string {
	return fmt.Sprintf("glacier://%s/%s", g.config.Region, g.config.Vault)
}

func (g *GlacierMirror) Key(host, filename string) string {
	return MirrorKey("", host, filename)
}

func (g *GlacierMirror) Upload(ctx context.Context, key, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	out, err := g.client.UploadArchive(ctx, &glacier.UploadArchiveInput{
		AccountId:          aws.String(g.accountID()),
		VaultName:          aws.String(g.config.Vault),
		ArchiveDescription: aws.String("volbackup: " + key),
		Body:               file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to AWS Glacier: %w", err)
	}
	if out.ArchiveId == nil {
		return fmt.Errorf("AWS Glacier returned no archive ID for %s", key)
	}
	return nil
}

func (g *GlacierMirror) Check(ctx context.Context) error {
	_, err := g.client.DescribeVault(ctx, &glacier.DescribeVaultInput{
		AccountId: aws.String(g.accountID()),
		VaultName: aws.String(g.config.Vault),
	})
	if err != nil {
		return fmt.Errorf("vault %s does not exist or is not accessible: %w", g.config.Vault, err)
	}
	return nil
}
