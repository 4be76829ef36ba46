package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/api"
)

// S3API is the subset of the S3 client the store uses, so tests can fake it.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Options struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

var _ Store = (*S3Store)(nil)

// S3Store publishes state, sitemaps and content as JSON objects in a bucket,
// using the same key layout as FileStore below an optional prefix.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	logger *zap.Logger
}

func NewS3Store(ctx context.Context, opts S3Options, logger *zap.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	return NewS3StoreWithClient(client, opts.Bucket, opts.Prefix, logger), nil
}

func NewS3StoreWithClient(client S3API, bucket, prefix string, logger *zap.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

func (s *S3Store) key(parts ...string) string {
	if s.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{s.prefix}, parts...)...)
}

func (s *S3Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	s.logger.Debug("object written", zap.String("bucket", s.bucket), zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// getJSON returns ErrNotFound when the object does not exist.
func (s *S3Store) getJSON(ctx context.Context, key string, v any) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return ErrNotFound
		}
		return fmt.Errorf("getting %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) deleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) GetSyncState(ctx context.Context, languageCode string) (SyncState, bool, error) {
	if err := checkKey(languageCode); err != nil {
		return SyncState{}, false, err
	}
	var state SyncState
	err := s.getJSON(ctx, s.key(stateDir, languageCode+jsonExt), &state)
	if errors.Is(err, ErrNotFound) {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, err
	}
	return state, true, nil
}

func (s *S3Store) SaveSyncState(ctx context.Context, languageCode string, state SyncState) error {
	if err := checkKey(languageCode); err != nil {
		return err
	}
	return s.putJSON(ctx, s.key(stateDir, languageCode+jsonExt), state)
}

func (s *S3Store) ListSyncStates(ctx context.Context) (map[string]SyncState, error) {
	statePrefix := s.key(stateDir) + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(statePrefix),
	})

	states := make(map[string]SyncState)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sync states: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), statePrefix)
			if strings.Contains(name, "/") || !strings.HasSuffix(name, jsonExt) {
				continue
			}
			var state SyncState
			if err := s.getJSON(ctx, aws.ToString(obj.Key), &state); err != nil {
				return nil, err
			}
			states[strings.TrimSuffix(name, jsonExt)] = state
		}
	}
	return states, nil
}

func (s *S3Store) SaveSitemap(ctx context.Context, channelName, languageCode string, sitemap api.Sitemap) error {
	if err := checkKey(channelName, languageCode); err != nil {
		return err
	}
	return s.putJSON(ctx, s.key(sitemapDir, channelName, languageCode+jsonExt), sitemap)
}

func (s *S3Store) GetSitemap(ctx context.Context, channelName, languageCode string) (api.Sitemap, error) {
	if err := checkKey(channelName, languageCode); err != nil {
		return nil, err
	}
	var sitemap api.Sitemap
	if err := s.getJSON(ctx, s.key(sitemapDir, channelName, languageCode+jsonExt), &sitemap); err != nil {
		return nil, err
	}
	return sitemap, nil
}

func (s *S3Store) SaveContentItem(ctx context.Context, languageCode string, item api.ContentItem) error {
	if err := checkKey(languageCode); err != nil {
		return err
	}
	return s.putJSON(ctx, s.recordKey(contentDir, languageCode, item.ContentID), item)
}

func (s *S3Store) DeleteContentItem(ctx context.Context, languageCode string, contentID int64) error {
	if err := checkKey(languageCode); err != nil {
		return err
	}
	return s.deleteObject(ctx, s.recordKey(contentDir, languageCode, contentID))
}

func (s *S3Store) SavePage(ctx context.Context, languageCode string, page api.Page) error {
	if err := checkKey(languageCode); err != nil {
		return err
	}
	return s.putJSON(ctx, s.recordKey(pagesDir, languageCode, page.PageID), page)
}

func (s *S3Store) DeletePage(ctx context.Context, languageCode string, pageID int64) error {
	if err := checkKey(languageCode); err != nil {
		return err
	}
	return s.deleteObject(ctx, s.recordKey(pagesDir, languageCode, pageID))
}

func (s *S3Store) recordKey(kind, languageCode string, id int64) string {
	return s.key(kind, languageCode, strconv.FormatInt(id, 10)+jsonExt)
}

func (s *S3Store) Close() error { return nil }
