package bill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for unknown bill names.
var ErrNotFound = errors.New("bill: not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-.]*\.pdf$`)

// Store persists rendered PDFs and returns the URL they can be fetched from.
type Store interface {
	Put(ctx context.Context, name string, pdf []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

// InvoiceName is a fresh file name for an invoice issued at t. The random
// suffix keeps invoices issued in the same second apart.
func InvoiceName(t time.Time) string {
	return fmt.Sprintf("Bill_%s_%s.pdf", t.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

// BookingName is the file name of a booking confirmation.
func BookingName(orderID string) string {
	return fmt.Sprintf("Booking_%s.pdf", orderID)
}

func checkName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("bill: invalid file name %q", name)
	}
	return nil
}

// LocalStore keeps bills in a directory served by the HTTP handler.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates dir if needed. baseURL is the public address of the
// service; bills are linked under {baseURL}/bills/{name}.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("bill: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bill: NewLocalStore: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Put(_ context.Context, name string, pdf []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, ".bill-*")
	if err != nil {
		return "", fmt.Errorf("bill: LocalStore.Put: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(pdf); err != nil {
		tmp.Close()
		return "", fmt.Errorf("bill: LocalStore.Put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("bill: LocalStore.Put: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("bill: LocalStore.Put: %w", err)
	}
	return s.baseURL + "/bills/" + url.PathEscape(name), nil
}

func (s *LocalStore) Get(_ context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bill: LocalStore.Get: %w", err)
	}
	return data, nil
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store uploads bills to a bucket.
type S3Store struct {
	api       S3API
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Store returns a store writing to bucket under prefix. publicURL is
// the base address objects are reachable at; when empty the virtual-hosted
// bucket URL is used.
func NewS3Store(api S3API, bucket, prefix, publicURL string) (*S3Store, error) {
	if api == nil {
		return nil, errors.New("bill: s3 client must not be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bill: bucket must not be empty")
	}
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &S3Store{
		api:       api,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Store) Put(ctx context.Context, name string, pdf []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	key := s.key(name)
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(pdf),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("bill: s3 put %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

func (s *S3Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, ErrNotFound
	}
	key := s.key(name)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bill: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("bill: s3 get %s: %w", key, err)
	}
	return data, nil
}
