package objectstore

import (
	"context"
	"time"
)

const listPageSize = 1000

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Client is the object-store surface the scanner and workers depend on. Keys
// use forward slashes regardless of platform.
type Client interface {
	// List returns up to max objects whose keys begin with prefix and sort
	// strictly after startAfter, in lexical key order. The returned token
	// resumes the listing and is empty once the listing may be exhausted.
	List(ctx context.Context, prefix, startAfter string, max int) ([]ObjectInfo, string, error)
	// HeadExists reports whether key exists.
	HeadExists(ctx context.Context, key string) (bool, error)
	// GetToFile downloads key into path, creating parent directories.
	GetToFile(ctx context.Context, key, path string) error
	// PutFromFile uploads the file at path under key.
	PutFromFile(ctx context.Context, path, key string) error
}

// RetryPolicy bounds an operation to a fixed number of attempts with a fixed
// delay between them. Attempts below one behave as a single attempt.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Do runs op until it succeeds or the attempts are exhausted, returning the
// last error. Context cancellation cuts the retry loop short.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return err
}

// listAll pages through every object under prefix.
func listAll(ctx context.Context, client Client, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	token := ""
	for {
		page, next, err := client.List(ctx, prefix, token, listPageSize)
		if err != nil {
			return nil, err
		}
		objects = append(objects, page...)
		if next == "" || len(page) == 0 {
			return objects, nil
		}
		token = next
	}
}

// listSizes returns the size of every object under prefix, keyed by object key.
func listSizes(ctx context.Context, client Client, prefix string) (map[string]int64, error) {
	objects, err := listAll(ctx, client, prefix)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64, len(objects))
	for _, object := range objects {
		sizes[object.Key] = object.Size
	}
	return sizes, nil
}
