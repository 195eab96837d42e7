package sthree

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/adahealth/munkipipe/pkg/storage"
	"github.com/adahealth/munkipipe/pkg/storage/status"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	body     []byte
	etag     string
	metadata map[string]*string
	modified time.Time
}

// fakeS3 is an in-memory bucket implementing the few S3 calls used by the store
type fakeS3 struct {
	s3iface.S3API
	mu      sync.Mutex
	objects map[string]fakeObject
	puts    int
	uploads int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func notFound(code string) error {
	return awserr.NewRequestFailure(awserr.New(code, "not found", nil), 404, "test-request")
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b) // #nosec
	return hex.EncodeToString(sum[:])
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound("NotFound")
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.body))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.StringValue(in.Key)] = fakeObject{
		body:     body,
		etag:     `"` + md5Hex(body) + `"`,
		metadata: in.Metadata,
		modified: time.Now().UTC(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	page := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		obj := f.objects[k]
		page.Contents = append(page.Contents, &s3.Object{
			Key:          aws.String(k),
			ETag:         aws.String(obj.etag),
			Size:         aws.Int64(int64(len(obj.body))),
			LastModified: aws.Time(obj.modified),
		})
	}
	f.mu.Unlock()
	fn(page, true)
	return nil
}

// fakeUploader mimics a multipart upload: the resulting ETag is not an MD5
type fakeUploader struct {
	bucket *fakeS3
}

func (u fakeUploader) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return u.UploadWithContext(context.Background(), in, opts...)
}

func (u fakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	u.bucket.mu.Lock()
	defer u.bucket.mu.Unlock()
	u.bucket.uploads++
	u.bucket.objects[aws.StringValue(in.Key)] = fakeObject{
		body:     body,
		etag:     `"` + md5Hex(body)[:20] + `-2"`,
		metadata: in.Metadata,
		modified: time.Now().UTC(),
	}
	return &s3manager.UploadOutput{}, nil
}

func setupStore(t *testing.T, opts ...Option) (storage.Store, *fakeS3) {
	fake := newFakeS3()
	opts = append([]Option{Prefix("repo"), Client(fake), Uploader(fakeUploader{bucket: fake})}, opts...)
	store, err := New(Bucket("munki-bucket"), opts...)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "pkgsinfo/apps/Firefox-120.0.plist", bytes.NewReader([]byte("pkginfo")), storage.OverWrite))
	require.NoError(t, store.Put(ctx, "pkgs/apps/Firefox-120.0.dmg", bytes.NewReader([]byte("payload")), storage.OverWrite))
	return store, fake
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(Bucket(""), Client(newFakeS3()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidResource))
}

func TestPrefixScoping(t *testing.T) {
	store, fake := setupStore(t)
	ctx := context.Background()

	_, stored := fake.objects["repo/pkgs/apps/Firefox-120.0.dmg"]
	assert.True(t, stored)
	assert.Equal(t, "s3://munki-bucket/repo", store.String())

	keys, err := store.Keys(ctx, "pkgs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkgs/apps/Firefox-120.0.dmg"}, keys)

	keys, err = store.Keys(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pkgs/apps/Firefox-120.0.dmg", "pkgsinfo/apps/Firefox-120.0.plist"}, keys)
}

func TestHasGetDelete(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	has, err := store.Has(ctx, "pkgs/apps/Firefox-120.0.dmg")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.Has(ctx, "pkgs/apps/Chrome.dmg")
	require.NoError(t, err)
	assert.False(t, has)

	rdr, err := store.Get(ctx, "pkgs/apps/Firefox-120.0.dmg")
	require.NoError(t, err)
	b, _ := io.ReadAll(rdr)
	assert.Equal(t, "payload", string(b))

	_, err = store.Get(ctx, "pkgs/apps/Chrome.dmg")
	assert.True(t, errors.Is(err, status.ErrNotExists))

	require.NoError(t, store.Delete(ctx, "pkgs/apps/Firefox-120.0.dmg"))
	has, err = store.Has(ctx, "pkgs/apps/Firefox-120.0.dmg")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestExclusivePut(t *testing.T) {
	store, _ := setupStore(t)
	err := store.Put(context.Background(), "pkgs/apps/Firefox-120.0.dmg", bytes.NewReader([]byte("x")), storage.NoOverWrite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrExists))
}

func TestChecksums(t *testing.T) {
	store, fake := setupStore(t, MultipartThreshold(8))
	ctx := context.Background()

	large := []byte("a payload larger than the threshold")
	require.NoError(t, store.Put(ctx, "pkgs/apps/Large.pkg", bytes.NewReader(large), storage.OverWrite))
	assert.Equal(t, 1, fake.uploads)
	assert.Equal(t, 2, fake.puts)

	list, err := store.List(ctx, "pkgs/")
	require.NoError(t, err)
	require.Len(t, list, 2)

	byKey := map[string]storage.Attributes{}
	for _, attrs := range list {
		byKey[attrs.Key] = attrs
	}
	assert.Equal(t, md5Hex([]byte("payload")), byKey["pkgs/apps/Firefox-120.0.dmg"].Checksum)
	assert.Equal(t, md5Hex(large), byKey["pkgs/apps/Large.pkg"].Checksum, "multipart objects fall back on metadata")
	assert.Equal(t, int64(len(large)), byKey["pkgs/apps/Large.pkg"].Size)

	attrs, err := store.GetAttr(ctx, "pkgs/apps/Large.pkg")
	require.NoError(t, err)
	assert.Equal(t, md5Hex(large), attrs.Checksum)

	_, err = store.GetAttr(ctx, "pkgs/apps/Missing.pkg")
	assert.True(t, errors.Is(err, status.ErrNotExists))
}

func TestNonSeekablePutUsesUploader(t *testing.T) {
	store, fake := setupStore(t)
	require.NoError(t, store.Put(context.Background(), "catalogs/all", io.NopCloser(strings.NewReader("catalog")), storage.OverWrite))
	assert.Equal(t, 1, fake.uploads)

	attrs, err := store.GetAttr(context.Background(), "catalogs/all")
	require.NoError(t, err)
	assert.Empty(t, attrs.Checksum, "no checksum without metadata nor plain ETag")
}

func TestToSentinelErrors(t *testing.T) {
	for _, toPin := range []struct {
		code     string
		status   int
		expected error
	}{
		{code: "AccessDenied", status: 403, expected: status.ErrForbidden},
		{code: "InvalidBucketName", status: 400, expected: status.ErrInvalidResource},
		{code: "BadDigest", status: 400, expected: status.ErrStorageAPI},
		{code: "NoSuchBucket", status: 404, expected: status.ErrNotFound},
		{code: "NoSuchKey", status: 404, expected: status.ErrNotExists},
		{code: "Unauthorized", status: 401, expected: status.ErrUnauthorized},
		{code: "SlowDown", status: 503, expected: status.ErrStorageAPI},
	} {
		fixture := toPin
		t.Run(fixture.code, func(t *testing.T) {
			err := toSentinelErrors(awserr.NewRequestFailure(awserr.New(fixture.code, "msg", nil), fixture.status, "id"))
			assert.True(t, errors.Is(err, fixture.expected))
		})
	}
	assert.NoError(t, toSentinelErrors(nil))
}
