// Package cdn invalidates cached objects on the CloudFront distribution serving
// the Munki repository.
package cdn

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxPaths is the number of paths above which a single wildcard is invalidated instead
const DefaultMaxPaths = 100

var (
	// ErrInvalidate is returned when the invalidation request fails
	ErrInvalidate = errors.New("cloudfront invalidation failed")

	// ErrDistribution is returned when no distribution is configured
	ErrDistribution = errors.New("cloudfront distribution id is required")
)

// Invalidator knows how to evict paths from a CDN cache
type Invalidator interface {
	Invalidate(context.Context, []string) (string, error)
}

// Option for the CloudFront invalidator
type Option func(*CloudFront)

// WithClient sets the CloudFront API client
func WithClient(api cloudfrontiface.CloudFrontAPI) Option {
	return func(c *CloudFront) {
		c.api = api
	}
}

// WithAWSConfig sets the AWS configuration used to build a client
func WithAWSConfig(cfg *aws.Config) Option {
	return func(c *CloudFront) {
		c.cfg = cfg
	}
}

// WithPathPrefix sets the path under which the repository is served by the distribution
func WithPathPrefix(prefix string) Option {
	return func(c *CloudFront) {
		c.prefix = strings.Trim(prefix, "/")
	}
}

// WithMaxPaths sets the threshold above which the whole prefix is invalidated
func WithMaxPaths(n int) Option {
	return func(c *CloudFront) {
		if n > 0 {
			c.maxPaths = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(zlg *zap.Logger) Option {
	return func(c *CloudFront) {
		if zlg != nil {
			c.l = zlg
		}
	}
}

// CloudFront invalidates paths on a distribution
type CloudFront struct {
	distribution string
	prefix       string
	maxPaths     int
	cfg          *aws.Config
	api          cloudfrontiface.CloudFrontAPI
	l            *zap.Logger
}

var _ Invalidator = &CloudFront{}

// NewCloudFront builds an invalidator for a distribution
func NewCloudFront(distribution string, opts ...Option) (*CloudFront, error) {
	if distribution == "" {
		return nil, ErrDistribution
	}
	c := &CloudFront{
		distribution: distribution,
		maxPaths:     DefaultMaxPaths,
		l:            zap.NewNop(),
	}
	for _, apply := range opts {
		apply(c)
	}
	if c.api == nil {
		cfg := c.cfg
		if cfg == nil {
			cfg = aws.NewConfig()
		}
		sess, err := session.NewSession(cfg)
		if err != nil {
			return nil, ErrInvalidate.Wrap(err)
		}
		c.api = cloudfront.New(sess)
	}
	return c, nil
}

// Paths converts store keys into distribution paths.
// Beyond the configured threshold, a single wildcard covers the whole prefix.
func (c *CloudFront) Paths(keys []string) []string {
	if len(keys) > c.maxPaths {
		return []string{"/" + path.Join(c.prefix, "*")}
	}
	paths := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		p := "/" + path.Join(c.prefix, strings.TrimPrefix(key, "/"))
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Invalidate the cached copies of the given store keys, returning the invalidation id
func (c *CloudFront) Invalidate(ctx context.Context, keys []string) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	paths := c.Paths(keys)
	out, err := c.api.CreateInvalidationWithContext(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.distribution),
		InvalidationBatch: &cloudfront.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &cloudfront.Paths{
				Quantity: aws.Int64(int64(len(paths))),
				Items:    aws.StringSlice(paths),
			},
		},
	})
	if err != nil {
		return "", ErrInvalidate.Wrap(err)
	}
	id := aws.StringValue(out.Invalidation.Id)
	c.l.Info("cloudfront invalidation requested",
		zap.String("distribution", c.distribution),
		zap.String("invalidation", id),
		zap.Int("paths", len(paths)),
	)
	return id, nil
}
