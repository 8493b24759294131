package objectstore

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"loom/internal/services"
)

// MinIOOptions identifies the remote store and its credentials.
type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOClient implements Client against any S3-compatible endpoint.
type MinIOClient struct {
	api    *minio.Client
	bucket string
}

// NewMinIO builds a client for opts. The constructor does not touch the
// network; reachability is a preflight concern.
func NewMinIO(opts MinIOOptions) (*MinIOClient, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new client", "endpoint is empty", nil)
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new client", "bucket is empty", nil)
	}
	api, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new client", opts.Endpoint, err)
	}
	return &MinIOClient{api: api, bucket: opts.Bucket}, nil
}

func (c *MinIOClient) List(ctx context.Context, prefix, startAfter string, max int) ([]ObjectInfo, string, error) {
	if max <= 0 {
		max = listPageSize
	}
	// ListObjects keeps streaming past MaxKeys, so cap the page ourselves and
	// cancel the listing once it is full.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make([]ObjectInfo, 0, max)
	for entry := range c.api.ListObjects(listCtx, c.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: startAfter,
		MaxKeys:    max,
	}) {
		if entry.Err != nil {
			return nil, "", services.Wrap(services.ErrTransport, "objectstore", "list", prefix, entry.Err)
		}
		objects = append(objects, ObjectInfo{Key: entry.Key, Size: entry.Size, LastModified: entry.LastModified})
		if len(objects) == max {
			cancel()
			break
		}
	}

	next := ""
	if len(objects) == max {
		next = objects[len(objects)-1].Key
	}
	return objects, next, nil
}

func (c *MinIOClient) HeadExists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, services.Wrap(services.ErrTransport, "objectstore", "head", key, err)
	}
	return true, nil
}

func (c *MinIOClient) GetToFile(ctx context.Context, key, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrTransport, "objectstore", "get", key, err)
	}
	if err := c.api.FGetObject(ctx, c.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		return services.Wrap(services.ErrTransport, "objectstore", "get", key, err)
	}
	return nil
}

func (c *MinIOClient) PutFromFile(ctx context.Context, path, key string) error {
	if _, err := c.api.FPutObject(ctx, c.bucket, key, path, minio.PutObjectOptions{}); err != nil {
		return services.Wrap(services.ErrTransport, "objectstore", "put", key, err)
	}
	return nil
}
