// Package results persists finished runs: the STATS report and the JSON
// result go to a local directory or an S3/MinIO bucket, and a summary row
// can be appended to a Postgres history table.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/runner"
)

// Backend defines where reports are stored.
type Backend string

const (
	BackendNone  Backend = "none"
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
	BackendMinIO Backend = "minio"
)

// ParseBackend accepts the Backend names; the empty string means none.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(s)); b {
	case "":
		return BackendNone, nil
	case BackendNone, BackendLocal, BackendS3, BackendMinIO:
		return b, nil
	default:
		return "", errors.Newf("unsupported results backend %q", s)
	}
}

const reportPrefix = "reports"

// StorageConfig holds configuration for report storage.
type StorageConfig struct {
	Backend Backend

	// Local storage config
	LocalPath string

	// S3/MinIO config
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// DefaultStorageConfig returns default storage configuration.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Backend:   BackendLocal,
		LocalPath: "./gcperfsim-results",
		Region:    "us-east-1",
		Bucket:    "gcperfsim-results",
	}
}

// Storage writes and reads run reports.
type Storage struct {
	config   *StorageConfig
	s3Client *s3.Client
}

// NewStorage creates a report storage for cfg.
func NewStorage(ctx context.Context, cfg *StorageConfig) (*Storage, error) {
	if cfg == nil {
		cfg = DefaultStorageConfig()
	}

	s := &Storage{config: cfg}

	switch cfg.Backend {
	case BackendLocal:
		if err := os.MkdirAll(filepath.Join(cfg.LocalPath, reportPrefix), 0o755); err != nil {
			return nil, errors.Wrap(err, "create local results directory")
		}
		slog.Info("Initialized local results storage", "path", cfg.LocalPath)

	case BackendS3, BackendMinIO:
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.s3Client = client
		slog.Info("Initialized S3/MinIO results storage",
			"endpoint", cfg.Endpoint,
			"bucket", cfg.Bucket,
		)
	default:
		return nil, errors.Newf("unsupported results backend: %s", cfg.Backend)
	}

	return s, nil
}

// newS3Client creates an S3 client for the configured endpoint.
func newS3Client(ctx context.Context, c *StorageConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}

	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.UsePathStyle // required for MinIO
	}), nil
}

// ReportKey is the object key of a run's STATS report.
func ReportKey(runID string) string {
	return path.Join(reportPrefix, runID+".txt")
}

// ResultKey is the object key of a run's JSON result.
func ResultKey(runID string) string {
	return path.Join(reportPrefix, runID+".json")
}

// Store writes the STATS report and the JSON result of res. It returns the
// location of the report.
func (s *Storage) Store(ctx context.Context, res *runner.Result) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode result")
	}
	if _, err := s.put(ctx, ResultKey(res.RunID), data, "application/json"); err != nil {
		return "", err
	}
	loc, err := s.put(ctx, ReportKey(res.RunID), runner.Render(res), "text/plain")
	if err != nil {
		return "", err
	}
	slog.Info("Stored run report", "run_id", res.RunID, "location", loc)
	return loc, nil
}

func (s *Storage) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	switch s.config.Backend {
	case BackendLocal:
		p := filepath.Join(s.config.LocalPath, filepath.FromSlash(key))
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return "", errors.Wrapf(err, "write %s", p)
		}
		return p, nil
	case BackendS3, BackendMinIO:
		_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.config.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			return "", errors.Wrapf(err, "upload %s", key)
		}
		return "s3://" + s.config.Bucket + "/" + key, nil
	default:
		return "", errors.Newf("unsupported results backend: %s", s.config.Backend)
	}
}

// GetReport returns the STATS report of runID.
func (s *Storage) GetReport(ctx context.Context, runID string) ([]byte, error) {
	return s.get(ctx, ReportKey(runID))
}

// GetResult returns the decoded JSON result of runID.
func (s *Storage) GetResult(ctx context.Context, runID string) (*runner.Result, error) {
	data, err := s.get(ctx, ResultKey(runID))
	if err != nil {
		return nil, err
	}
	var res runner.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrapf(err, "decode result %s", runID)
	}
	return &res, nil
}

func (s *Storage) get(ctx context.Context, key string) ([]byte, error) {
	switch s.config.Backend {
	case BackendLocal:
		data, err := os.ReadFile(filepath.Join(s.config.LocalPath, filepath.FromSlash(key)))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", key)
		}
		return data, nil
	case BackendS3, BackendMinIO:
		out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "download %s", key)
		}
		defer out.Body.Close()
		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", key)
		}
		return data, nil
	default:
		return nil, errors.Newf("unsupported results backend: %s", s.config.Backend)
	}
}

// ListRuns returns the ids of stored runs in lexical order.
func (s *Storage) ListRuns(ctx context.Context) ([]string, error) {
	var names []string
	switch s.config.Backend {
	case BackendLocal:
		entries, err := os.ReadDir(filepath.Join(s.config.LocalPath, reportPrefix))
		if err != nil {
			return nil, errors.Wrap(err, "list local reports")
		}
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	case BackendS3, BackendMinIO:
		p := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.config.Bucket),
			Prefix: aws.String(reportPrefix + "/"),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "list S3 reports")
			}
			for _, obj := range page.Contents {
				if obj.Key != nil {
					names = append(names, path.Base(*obj.Key))
				}
			}
		}
	default:
		return nil, errors.Newf("unsupported results backend: %s", s.config.Backend)
	}

	var ids []string
	for _, n := range names {
		if id, ok := strings.CutSuffix(n, ".txt"); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
