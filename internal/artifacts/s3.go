package artifacts

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// s3Revision names the snapshot directory of mirrored artifacts, which
// carry no upstream commit hash.
const s3Revision = "s3"

// S3Config configures S3Source.
type S3Config struct {
	Bucket string
	// Prefix under which artifacts are stored as <prefix>/<org>/<name>/...
	Prefix   string
	Region   string
	Endpoint string
	// Client overrides the S3 API client built from Region and Endpoint.
	Client      s3iface.S3API
	Concurrency int
	Logger      *zerolog.Logger
}

// S3Source fetches artifacts from an S3 mirror of the hub.
type S3Source struct {
	cfg        S3Config
	client     s3iface.S3API
	downloader *s3manager.Downloader
	log        zerolog.Logger
}

// NewS3 returns an S3-backed Source.
func NewS3(cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 source: bucket is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	client := cfg.Client
	if client == nil {
		awsCfg := &aws.Config{
			Region:                        aws.String(cfg.Region),
			CredentialsChainVerboseErrors: aws.Bool(true),
		}
		if cfg.Endpoint != "" {
			awsCfg.Endpoint = aws.String(cfg.Endpoint)
			awsCfg.S3ForcePathStyle = aws.Bool(true)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		client = s3.New(sess)
	}
	s := &S3Source{
		cfg:        cfg,
		client:     client,
		downloader: s3manager.NewDownloaderWithClient(client),
		log:        zerolog.Nop(),
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", "artifacts").Str("source", "s3").Logger()
	}
	return s, nil
}

func (s *S3Source) Name() string { return "s3" }

// KeyPrefix returns the object prefix holding modelID, with a trailing slash.
func (s *S3Source) KeyPrefix(modelID string) string {
	return path.Join(s.cfg.Prefix, modelID) + "/"
}

// ManualCommand is the CLI equivalent of Fetch.
func (s *S3Source) ManualCommand(modelID, hubDir string) string {
	return fmt.Sprintf("aws s3 cp --recursive s3://%s/%s %s", s.cfg.Bucket, s.KeyPrefix(modelID), snapshotDir(hubDir, modelID, s3Revision))
}

func (s *S3Source) Fetch(ctx context.Context, modelID, hubDir string, progress ProgressFunc) error {
	prefix := s.KeyPrefix(modelID)
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("list s3://%s/%s: %w", s.cfg.Bucket, prefix, err)
	}
	keys = lo.Filter(keys, func(k string, _ int) bool { return !strings.HasSuffix(k, "/") })
	if len(keys) == 0 {
		return fmt.Errorf("%w: no objects under s3://%s/%s", ErrUnavailable, s.cfg.Bucket, prefix)
	}

	dir := snapshotDir(hubDir, modelID, s3Revision)
	s.log.Info().Str("model", modelID).Int("files", len(keys)).Msg("fetching artifact")
	report(progress, 0, len(keys))

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, key := range keys {
		g.Go(func() error {
			dst, err := safeJoin(dir, strings.TrimPrefix(key, prefix))
			if err != nil {
				return err
			}
			if err := s.fetchObject(gctx, key, dst); err != nil {
				return fmt.Errorf("fetch %s: %w", key, err)
			}
			report(progress, int(done.Add(1)), len(keys))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return writeRef(hubDir, modelID, s3Revision)
}

func (s *S3Source) fetchObject(ctx context.Context, key, dst string) error {
	if fi, err := os.Stat(dst); err == nil && fi.Mode().IsRegular() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".incomplete"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
