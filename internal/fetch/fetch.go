package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

var (
	ErrTooLarge          = errors.New("remote document exceeds upload limit")
	ErrUnsupportedScheme = errors.New("unsupported document URL scheme")
	ErrHostNotAllowed    = errors.New("document host is not allowed")
)

// Document is a remote file pulled into memory for ingestion.
type Document struct {
	Data        []byte
	Filename    string
	ContentType string
}

// S3API is the subset of the S3 client the fetcher uses.
type S3API interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client from the default AWS chain, overridden by
// static credentials and a custom endpoint when given (MinIO and friends).
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// Fetcher downloads documents referenced by s3:// or http(s):// URLs.
type Fetcher struct {
	s3       S3API
	http     *http.Client
	maxBytes int64
	hosts    []string
}

// New returns a Fetcher. s3Client may be nil, in which case s3:// URLs are
// rejected. http(s) URLs are only fetched from allowedHosts; an entry with a
// leading dot (".example.com") matches any subdomain. With no allowed hosts
// http(s) URLs are rejected.
func New(s3Client S3API, httpClient *http.Client, maxBytes int64, allowedHosts []string) *Fetcher {
	f := &Fetcher{s3: s3Client, maxBytes: maxBytes}
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			f.hosts = append(f.hosts, h)
		}
	}

	var c http.Client
	if httpClient != nil {
		c = *httpClient
	} else {
		c.Timeout = 60 * time.Second
	}
	// Redirects must stay on allowed hosts too.
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("stopped after 5 redirects")
		}
		return f.checkHost(req.URL)
	}
	f.http = &c
	return f
}

func (f *Fetcher) checkHost(u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	for _, h := range f.hosts {
		if host == h || (strings.HasPrefix(h, ".") && strings.HasSuffix(host, h)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrHostNotAllowed, host)
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Document, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Document{}, fmt.Errorf("parse document url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "s3":
		if f.s3 == nil {
			return Document{}, fmt.Errorf("%w: s3 is not configured", ErrUnsupportedScheme)
		}
		return f.fetchS3(ctx, u)
	case "http", "https":
		if len(f.hosts) == 0 {
			return Document{}, fmt.Errorf("%w: http(s) fetching is disabled", ErrUnsupportedScheme)
		}
		if err := f.checkHost(u); err != nil {
			return Document{}, err
		}
		return f.fetchHTTP(ctx, u)
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL) (Document, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return Document{}, fmt.Errorf("invalid s3 url: %s", u)
	}

	head, err := f.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return Document{}, fmt.Errorf("failed to stat s3 object: %w", err)
	}
	if head.ContentLength != nil && f.maxBytes > 0 && *head.ContentLength > f.maxBytes {
		return Document{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, *head.ContentLength)
	}

	buf := manager.NewWriteAtBuffer(nil)
	n, err := manager.NewDownloader(f.s3).Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Document{}, fmt.Errorf("failed to download from S3: %w", err)
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		return Document{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}

	doc := Document{Data: buf.Bytes(), Filename: path.Base(key), ContentType: aws.ToString(head.ContentType)}
	log.Info().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Msg("downloaded s3 document")
	return doc, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Document{}, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetch %s: http %d", u.Redacted(), resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		if resp.ContentLength > f.maxBytes {
			return Document{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
		}
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Document{}, err
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return Document{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = ""
	}
	log.Info().Str("host", u.Host).Int("bytes", len(data)).Msg("downloaded http document")
	return Document{Data: data, Filename: name, ContentType: resp.Header.Get("Content-Type")}, nil
}
