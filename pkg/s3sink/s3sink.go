// Package s3sink copies committed shard files to S3.
package s3sink

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Uploader is the part of *s3manager.Uploader the sink needs.
type Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput,
		opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Sink uploads files under s3://Bucket/Prefix, keyed by base name.
type Sink struct {
	Bucket   string
	Prefix   string
	Uploader Uploader
	Logger   *zap.Logger
}

// ParseURI splits an `s3://bucket/prefix` URI.
func ParseURI(uri string) (bucket, prefix string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not an s3://bucket/prefix URI", uri)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// New returns a Sink for `uri` using the default AWS credential chain and
// shared config.
func New(uri string, logger *zap.Logger) (*Sink, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		Bucket:   bucket,
		Prefix:   prefix,
		Uploader: s3manager.NewUploader(sess),
		Logger:   logger,
	}, nil
}

// Key is the object key a local file is uploaded to.
func (s *Sink) Key(localPath string) string {
	return path.Join(s.Prefix, filepath.Base(localPath))
}

func (s *Sink) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	key := s.Key(localPath)
	out, err := s.Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("upload to s3://%s/%s: %w", s.Bucket, key, err)
	}
	if s.Logger != nil {
		s.Logger.Info("uploaded shard",
			zap.String("location", out.Location),
			zap.String("size", humanize.Bytes(uint64(info.Size()))))
	}
	return nil
}
