package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// BucketLogos holds tool logos.
	BucketLogos = "logos"
	// MaxObjectSize bounds uploaded objects.
	MaxObjectSize = 5 << 20

	maxKeyLength = 256
)

var (
	// ErrUnknownBucket indicates a bucket outside the allowlist.
	ErrUnknownBucket = errors.New("storage: unknown bucket")
	// ErrInvalidKey indicates an object key that is empty, too long or escapes the bucket.
	ErrInvalidKey = errors.New("storage: invalid object key")
	// ErrObjectExists indicates an upload would overwrite an object.
	ErrObjectExists = errors.New("storage: object already exists")
	// ErrObjectTooLarge indicates an upload above MaxObjectSize.
	ErrObjectTooLarge = errors.New("storage: object too large")
	// ErrUnsupportedType indicates an upload that is not an image.
	ErrUnsupportedType = errors.New("storage: unsupported content type")
	// ErrObjectNotFound indicates a missing object.
	ErrObjectNotFound = errors.New("storage: object not found")
)

// Config describes where objects live and how they are addressed publicly.
type Config struct {
	Filesystem    afero.Fs
	Root          string
	PublicBaseURL string
	Buckets       []string
	Logger        *zap.Logger
}

// Store keeps uploaded objects on an afero filesystem.
type Store struct {
	fs            afero.Fs
	publicBaseURL string
	buckets       map[string]struct{}
	logger        *zap.Logger
}

// Object is an opened stored object.
type Object struct {
	Reader      io.ReadSeekCloser
	ContentType string
	ModTime     time.Time
	Size        int64
}

// New constructs the store. A nil filesystem means the OS filesystem rooted at Root.
func New(cfg Config) (*Store, error) {
	filesystem := cfg.Filesystem
	if filesystem == nil {
		root := strings.TrimSpace(cfg.Root)
		if root == "" {
			return nil, fmt.Errorf("storage: root is required")
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("storage: preparing root: %w", err)
		}
		filesystem = afero.NewBasePathFs(afero.NewOsFs(), root)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("storage: public base url is invalid: %w", err)
	}
	bucketNames := cfg.Buckets
	if len(bucketNames) == 0 {
		bucketNames = []string{BucketLogos}
	}
	buckets := make(map[string]struct{}, len(bucketNames))
	for _, bucket := range bucketNames {
		buckets[bucket] = struct{}{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		fs:            filesystem,
		publicBaseURL: baseURL,
		buckets:       buckets,
		logger:        logger,
	}, nil
}

// NewObjectKey returns a collision-free key with the given extension.
func NewObjectKey(extension string) string {
	extension = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(extension), "."))
	if extension == "" {
		return xid.New().String()
	}
	return xid.New().String() + "." + extension
}

// Upload stores data under bucket/key. Existing objects are never overwritten.
func (s *Store) Upload(ctx context.Context, bucket, key string, data []byte) error {
	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if len(data) > MaxObjectSize {
		return ErrObjectTooLarge
	}
	if contentType := http.DetectContentType(data); !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.fs.MkdirAll(path.Dir(objectPath), 0o755); err != nil {
		return err
	}
	file, err := s.fs.OpenFile(objectPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrObjectExists
		}
		return err
	}
	if _, err := io.Copy(file, bytes.NewReader(data)); err != nil {
		_ = file.Close()
		_ = s.fs.Remove(objectPath)
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	s.logger.Debug("object stored", zap.String("bucket", bucket), zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// PublicURL returns the address the object is served from.
func (s *Store) PublicURL(bucket, key string) string {
	return s.publicBaseURL + "/storage/" + url.PathEscape(bucket) + "/" + escapeKey(key)
}

// Open returns the stored object for serving.
func (s *Store) Open(bucket, key string) (Object, error) {
	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return Object{}, err
	}
	file, err := s.fs.Open(objectPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Object{}, ErrObjectNotFound
		}
		return Object{}, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return Object{}, err
	}
	if info.IsDir() {
		_ = file.Close()
		return Object{}, ErrObjectNotFound
	}

	sniff := make([]byte, 512)
	read, _ := io.ReadFull(file, sniff)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return Object{}, err
	}
	return Object{
		Reader:      file,
		ContentType: http.DetectContentType(sniff[:read]),
		ModTime:     info.ModTime(),
		Size:        info.Size(),
	}, nil
}

func (s *Store) objectPath(bucket, key string) (string, error) {
	if _, ok := s.buckets[bucket]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" || len(key) > maxKeyLength {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || strings.HasPrefix(cleaned, "../") || cleaned == ".." || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	return path.Join(bucket, cleaned), nil
}

func escapeKey(key string) string {
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
