package objects

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/gophchat/internal/netx"
)

type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	Prefix       string
	URLExpiry    time.Duration
	UsePathStyle bool
}

type presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type objectDeleter interface {
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// S3Store uploads through presigned PUT URLs and hands out presigned GET
// URLs. Revoke deletes the object, which invalidates the URL.
type S3Store struct {
	opts    S3Options
	presign presigner
	deleter objectDeleter
	http    *http.Client

	mu   sync.Mutex
	keys map[string]string // url -> key
}

func NewS3Store(ctx context.Context, opts S3Options, httpClient *http.Client) (*S3Store, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return newS3Store(opts, s3.NewPresignClient(client), client, httpClient), nil
}

func newS3Store(opts S3Options, p presigner, d objectDeleter, httpClient *http.Client) *S3Store {
	if opts.URLExpiry == 0 {
		opts.URLExpiry = 15 * time.Minute
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &S3Store{opts: opts, presign: p, deleter: d, http: httpClient, keys: make(map[string]string)}
}

func (s *S3Store) key(name string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("%s%d/%02d/%02d/%s", s.opts.Prefix, d.Year(), d.Month(), d.Day(), objectName(name))
}

func (s *S3Store) Put(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	key := s.key(name)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	put, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mimeType),
	}, s3.WithPresignExpires(s.opts.URLExpiry))
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}

	if err := netx.PutPresigned(ctx, s.http, put.URL, mimeType, data); err != nil {
		return "", err
	}

	get, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.opts.URLExpiry))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}

	s.mu.Lock()
	s.keys[get.URL] = key
	s.mu.Unlock()
	return get.URL, nil
}

func (s *S3Store) Revoke(ctx context.Context, url string) error {
	s.mu.Lock()
	key, ok := s.keys[url]
	delete(s.keys, url)
	s.mu.Unlock()

	if !ok {
		return ErrUnknownObject
	}

	_, err := s.deleter.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
