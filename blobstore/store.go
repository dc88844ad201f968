package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when a blob does not exist. It matches os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

const s3Scheme = "s3://"

// Store reads and writes whole blobs such as model artifacts.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
}

// Location is a parsed s3://bucket/key address.
type Location struct {
	Bucket string
	Key    string
}

// IsRemote reports whether path names an object store location.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, s3Scheme)
}

func ParseLocation(path string) (Location, error) {
	if !IsRemote(path) {
		return Location{}, fmt.Errorf("not an s3 location: %q", path)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(path, s3Scheme), "/")
	key = strings.TrimLeft(key, "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, fmt.Errorf("s3 location must be s3://bucket/key: %q", path)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Router sends s3:// names to MinIO and everything else to the local filesystem.
// The MinIO client is created on first use so a local-only setup needs no endpoint.
type Router struct {
	local *LocalStore
	opts  MinioOptions

	mu      sync.Mutex
	remotes map[string]*MinioStore
	client  *minio.Client
}

func NewRouter(opts MinioOptions) *Router {
	return &Router{local: NewLocalStore(""), opts: opts, remotes: map[string]*MinioStore{}}
}

func (r *Router) resolve(name string) (Store, string, error) {
	if !IsRemote(name) {
		return r.local, name, nil
	}
	loc, err := ParseLocation(name)
	if err != nil {
		return nil, "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.remotes[loc.Bucket]; ok {
		return s, loc.Key, nil
	}
	if r.client == nil {
		if r.opts.Endpoint == "" {
			return nil, "", errors.New("s3 location given but no storage endpoint is configured")
		}
		client, err := minio.New(r.opts.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(r.opts.AccessKey, r.opts.SecretKey, ""),
			Secure: r.opts.UseSSL,
			Region: r.opts.Region,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create minio client: %w", err)
		}
		r.client = client
	}
	s := NewMinioStore(r.client, loc.Bucket, "")
	r.remotes[loc.Bucket] = s
	return s, loc.Key, nil
}

func (r *Router) Get(ctx context.Context, name string) ([]byte, error) {
	s, key, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, key)
}

func (r *Router) Put(ctx context.Context, name string, data []byte) error {
	s, key, err := r.resolve(name)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data)
}
