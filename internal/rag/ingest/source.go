package ingest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"agenticrag/internal/config"
)

// Source lists and reads the raw documents under a docset root, either
// on the local filesystem or in an S3 bucket.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

var docExtensions = map[string]bool{
	".md": true, ".markdown": true, ".txt": true, ".html": true, ".htm": true,
}

// LocalSource walks a directory on the local filesystem.
type LocalSource struct {
	root string
}

// NewLocalSource roots a Source at dir.
func NewLocalSource(dir string) *LocalSource { return &LocalSource{root: dir} }

func (s *LocalSource) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !docExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			rel = p
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	return paths, nil
}

func (s *LocalSource) Read(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
}

// S3Source lists and reads objects under a bucket/prefix, grounded on
// the teacher's objectstore.S3Store client construction.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Source builds an S3-backed Source for bucket/prefix.
func NewS3Source(ctx context.Context, cfg config.S3Config, bucket, prefix string) (*S3Source, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	return &S3Source{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
	}, nil
}

func (s *S3Source) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Source) List(ctx context.Context) ([]string, error) {
	var keys []string
	var token *string
	for {
		input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
		if s.prefix != "" {
			input.Prefix = aws.String(s.prefix + "/")
		}
		input.ContinuationToken = token
		page, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, s.prefix+"/")
			if docExtensions[strings.ToLower(filepath.Ext(rel))] {
				keys = append(keys, rel)
			}
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	return keys, nil
}

func (s *S3Source) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", path, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Resolve picks a Source from a docs_root string: "s3://bucket/prefix"
// selects S3Source, anything else is treated as a local directory.
func Resolve(ctx context.Context, docsRoot string, s3cfg config.S3Config) (Source, error) {
	if strings.HasPrefix(docsRoot, "s3://") {
		rest := strings.TrimPrefix(docsRoot, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		bucket := parts[0]
		prefix := ""
		if len(parts) == 2 {
			prefix = parts[1]
		}
		return NewS3Source(ctx, s3cfg, bucket, prefix)
	}
	return NewLocalSource(docsRoot), nil
}
