package objects

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBucket serves presigned PUTs and records deletes.
type fakeBucket struct {
	server *httptest.Server

	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	deleted  []string
	putErr   error
	expiries []time.Duration
}

func newFakeBucket(t *testing.T) *fakeBucket {
	t.Helper()
	b := &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.objects[r.URL.Path] = body
		b.types[r.URL.Path] = r.Header.Get("Content-Type")
		b.mu.Unlock()
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBucket) PresignPutObject(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if b.putErr != nil {
		return nil, b.putErr
	}
	var o s3.PresignOptions
	for _, fn := range optFns {
		fn(&o)
	}
	b.mu.Lock()
	b.expiries = append(b.expiries, o.Expires)
	b.mu.Unlock()
	return &v4.PresignedHTTPRequest{URL: b.server.URL + "/" + *in.Bucket + "/" + *in.Key + "?X-Amz-Signature=put", Method: http.MethodPut}, nil
}

func (b *fakeBucket) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: b.server.URL + "/" + *in.Bucket + "/" + *in.Key + "?X-Amz-Signature=get", Method: http.MethodGet}, nil
}

func (b *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_PutUploadsAndReturnsGetURL(t *testing.T) {
	bucket := newFakeBucket(t)
	store := newS3Store(S3Options{Bucket: "chat", Prefix: "files/"}, bucket, bucket, bucket.server.Client())

	u, err := store.Put(context.Background(), "notes.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Contains(t, u, "X-Amz-Signature=get")
	assert.Contains(t, u, "/chat/files/")
	assert.True(t, strings.Contains(u, ".txt?"))

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	require.Len(t, bucket.objects, 1)
	for path, body := range bucket.objects {
		assert.Equal(t, "hello", string(body))
		assert.Equal(t, "text/plain", bucket.types[path])
	}
	assert.Equal(t, []time.Duration{15 * time.Minute}, bucket.expiries)
}

func TestS3Store_RevokeDeletesObject(t *testing.T) {
	bucket := newFakeBucket(t)
	store := newS3Store(S3Options{Bucket: "chat"}, bucket, bucket, bucket.server.Client())
	ctx := context.Background()

	u, err := store.Put(ctx, "a.bin", "", []byte{1, 2, 3})
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, u))
	require.ErrorIs(t, store.Revoke(ctx, u), ErrUnknownObject)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	require.Len(t, bucket.deleted, 1)
	assert.True(t, strings.HasSuffix(bucket.deleted[0], ".bin"))
}

func TestS3Store_PresignError(t *testing.T) {
	bucket := newFakeBucket(t)
	bucket.putErr = errors.New("no credentials")
	store := newS3Store(S3Options{Bucket: "chat"}, bucket, bucket, nil)

	_, err := store.Put(context.Background(), "a", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presign put")
}

func TestNewS3Store_AppliesConfig(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	var region string
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		region = lo.Region
		return aws.Config{Region: lo.Region}, nil
	}

	store, err := NewS3Store(context.Background(), S3Options{
		Region:       "eu-central-1",
		Endpoint:     "http://127.0.0.1:9000",
		Bucket:       "chat",
		UsePathStyle: true,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, "eu-central-1", region)

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("broken profile")
	}
	_, err = NewS3Store(context.Background(), S3Options{}, nil)
	require.Error(t, err)
}
