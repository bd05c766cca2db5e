package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 is a ByteSource over an S3 object using ranged GetObject calls.
// Multi-gigabyte containers can be indexed without downloading the
// payload: the footer and index are small ranged reads, and entry
// reads fetch only their own byte range.
type S3 struct {
	client *awss3.Client
	bucket string
	key    string
	size   int64
	ctx    context.Context
}

// OpenS3 opens s3://bucket/key as a random-access source. The object
// size is resolved once via HeadObject. The context is retained for
// subsequent ranged reads, matching the lifetime of the archive that
// owns the source.
func OpenS3(ctx context.Context, uri string) (*S3, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	retryMax, ok := intFromEnv("PAKRAT_S3_MAX_RETRIES")
	var cfg aws.Config
	if ok {
		cfg, err = config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(retryMax))
	} else {
		cfg, err = config.LoadDefaultConfig(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("source: loading aws config: %w", err)
	}
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if strings.EqualFold(strings.TrimSpace(os.Getenv("PAKRAT_S3_USE_PATH_STYLE")), "true") {
			o.UsePathStyle = true
		}
	})
	head, err := client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("source: head s3://%s/%s: %w", bucket, key, err)
	}
	return &S3{
		client: client,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
		ctx:    ctx,
	}, nil
}

// IsS3URI reports whether v looks like an s3:// reference.
func IsS3URI(v string) bool { return strings.HasPrefix(v, "s3://") }

func (s *S3) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || off >= s.size {
		return 0, fmt.Errorf("source: offset %d outside object of %d bytes", off, s.size)
	}
	end := off + int64(len(p))
	if end > s.size {
		end = s.size
	}
	out, err := s.client.GetObject(s.ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(FormatRange(off, end-off)),
	})
	if err != nil {
		return 0, fmt.Errorf("source: ranged get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p[:end-off])
	if err != nil {
		return n, err
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *S3) Size() int64 { return s.size }

func (s *S3) Close() error { return nil }

// FormatRange renders an HTTP byte-range header value for n bytes at
// off. The range is inclusive on both ends.
func FormatRange(off, n int64) string {
	return fmt.Sprintf("bytes=%d-%d", off, off+n-1)
}

func parseS3URI(v string) (bucket, key string, err error) {
	u, err := url.Parse(v)
	if err != nil {
		return "", "", fmt.Errorf("source: invalid s3 uri %q: %w", v, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("source: unsupported uri scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("source: s3 uri %q must include bucket", v)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("source: s3 uri %q must include object key", v)
	}
	return u.Host, key, nil
}

func intFromEnv(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return x, true
}
