// Package sthree implements a storage.Store over an S3 bucket, scoped to a key prefix.
package sthree

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"io"
	"path"
	"strings"

	"github.com/adahealth/munkipipe/pkg/storage"
	"github.com/adahealth/munkipipe/pkg/storage/status"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

const (
	// PageSize for object listings
	PageSize = 1000

	// DefaultMultipartThreshold is the size above which objects are sent with the multipart uploader
	DefaultMultipartThreshold = 64 * 1024 * 1024

	// metaChecksum is the user metadata key carrying the hex MD5 of the content.
	// The SDK canonicalizes header names, hence the capitalization.
	metaChecksum = "Md5"
)

// Option for the S3 store
type Option func(*s3FS)

// Bucket to store objects in
func Bucket(bucket string) Option {
	return func(fs *s3FS) {
		fs.bucket = bucket
	}
}

// Prefix scopes all keys under a folder of the bucket
func Prefix(prefix string) Option {
	return func(fs *s3FS) {
		fs.prefix = strings.Trim(prefix, "/")
	}
}

// AWSConfig used to build the session, when no client is provided
func AWSConfig(cfg *aws.Config) Option {
	return func(fs *s3FS) {
		fs.awsConfig = cfg
	}
}

// Client injects an S3 API client
func Client(api s3iface.S3API) Option {
	return func(fs *s3FS) {
		fs.s3 = api
	}
}

// Uploader injects the uploader used for large objects
func Uploader(uploader s3manageriface.UploaderAPI) Option {
	return func(fs *s3FS) {
		fs.uploader = uploader
	}
}

// MultipartThreshold sets the size above which the multipart uploader is used
func MultipartThreshold(size int64) Option {
	return func(fs *s3FS) {
		if size > 0 {
			fs.multipartThreshold = size
		}
	}
}

// New S3 store
func New(option Option, options ...Option) (storage.Store, error) {
	fs := &s3FS{
		multipartThreshold: DefaultMultipartThreshold,
	}
	option(fs)
	for _, apply := range options {
		apply(fs)
	}
	if fs.bucket == "" {
		return nil, status.ErrInvalidResource.Wrapf("a bucket is required")
	}

	if fs.s3 == nil {
		sess, err := session.NewSession(fs.awsConfig)
		if err != nil {
			return nil, status.ErrStorageAPI.Wrap(err)
		}
		client := s3.New(sess)
		fs.s3 = client
		if fs.uploader == nil {
			fs.uploader = s3manager.NewUploaderWithClient(client)
		}
	}
	if fs.uploader == nil {
		fs.uploader = s3manager.NewUploaderWithClient(fs.s3)
	}
	return fs, nil
}

type s3FS struct {
	bucket             string
	prefix             string
	awsConfig          *aws.Config
	s3                 s3iface.S3API
	uploader           s3manageriface.UploaderAPI
	multipartThreshold int64
}

func (s *s3FS) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *s3FS) storeKey(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(strings.TrimPrefix(objectKey, s.prefix), "/")
}

func (s *s3FS) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.head(ctx, key)
	if err != nil {
		return false, filterErrNotExists(err)
	}
	return true, nil
}

func (s *s3FS) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := s.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return out, toSentinelErrors(err)
}

func (s *s3FS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, toSentinelErrors(err)
	}
	return obj.Body, nil
}

// Put an object. Seekable readers are checksummed first: the MD5 is recorded
// as user metadata, so multipart uploads can still be compared by content.
func (s *s3FS) Put(ctx context.Context, key string, rdr io.Reader, exclusive bool) error {
	if exclusive {
		// S3 has no conditional put in this SDK: this is a best-effort check
		has, err := s.Has(ctx, key)
		if err != nil {
			return err
		}
		if has {
			return status.ErrExists.Wrapf("%q", key)
		}
	}

	metadata := map[string]*string{}
	if rs, ok := rdr.(io.ReadSeeker); ok {
		sum, size, err := storage.Checksum(rs)
		if err != nil {
			return err
		}
		if _, err = rs.Seek(0, io.SeekStart); err != nil {
			return err
		}
		metadata[metaChecksum] = aws.String(sum)

		if size <= s.multipartThreshold {
			raw, _ := hex.DecodeString(sum)
			_, err = s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(s.objectKey(key)),
				Body:          rs,
				ContentLength: aws.Int64(size),
				ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(raw)),
				Metadata:      metadata,
			})
			return toSentinelErrors(err)
		}
	}

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(key)),
		Body:     rdr,
		Metadata: metadata,
	})
	return toSentinelErrors(err)
}

func (s *s3FS) Delete(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return filterErrNotExists(toSentinelErrors(err))
}

func (s *s3FS) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.each(ctx, prefix, func(obj *s3.Object) error {
		keys = append(keys, s.storeKey(aws.StringValue(obj.Key)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *s3FS) GetAttr(ctx context.Context, key string) (storage.Attributes, error) {
	out, err := s.head(ctx, key)
	if err != nil {
		return storage.Attributes{}, err
	}
	return storage.Attributes{
		Key:      key,
		Size:     aws.Int64Value(out.ContentLength),
		Updated:  aws.TimeValue(out.LastModified).UTC(),
		Checksum: checksumOf(aws.StringValue(out.ETag), out.Metadata),
	}, nil
}

// List objects under a prefix. Checksums come from the ETag when it is a plain MD5,
// otherwise from the checksum metadata, at the cost of one HEAD request per object.
func (s *s3FS) List(ctx context.Context, prefix string) ([]storage.Attributes, error) {
	var res []storage.Attributes
	err := s.each(ctx, prefix, func(obj *s3.Object) error {
		key := s.storeKey(aws.StringValue(obj.Key))
		etag := aws.StringValue(obj.ETag)
		if !isPlainMD5(etag) {
			attrs, err := s.GetAttr(ctx, key)
			if err != nil {
				return err
			}
			res = append(res, attrs)
			return nil
		}
		res = append(res, storage.Attributes{
			Key:      key,
			Size:     aws.Int64Value(obj.Size),
			Updated:  aws.TimeValue(obj.LastModified).UTC(),
			Checksum: checksumOf(etag, nil),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *s3FS) each(ctx context.Context, prefix string, fn func(*s3.Object) error) error {
	var erf error
	listPrefix := strings.TrimPrefix(prefix, "/")
	if s.prefix != "" {
		listPrefix = s.prefix + "/" + listPrefix
	}
	params := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(listPrefix),
		MaxKeys: aws.Int64(PageSize),
	}
	err := s.s3.ListObjectsV2PagesWithContext(ctx, params, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if aws.StringValue(obj.Key) == "" || strings.HasSuffix(aws.StringValue(obj.Key), "/") {
				continue
			}
			if erf = fn(obj); erf != nil {
				return false
			}
		}
		return true
	})
	if erf != nil {
		return erf
	}
	return toSentinelErrors(err)
}

func (s *s3FS) String() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func isPlainMD5(etag string) bool {
	etag = strings.Trim(etag, `"`)
	return len(etag) == 32 && !strings.Contains(etag, "-")
}

func checksumOf(etag string, metadata map[string]*string) string {
	for k, v := range metadata {
		if strings.EqualFold(k, metaChecksum) {
			return aws.StringValue(v)
		}
	}
	if isPlainMD5(etag) {
		return strings.Trim(etag, `"`)
	}
	return ""
}
