package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrEmptyKey is returned for snapshots without a key.
var ErrEmptyKey = errors.New("snapshot key cannot be empty")

// Backend defines the contract for all snapshot stores.
type Backend interface {
	// Save persists snap, replacing any snapshot with the same key.
	Save(ctx context.Context, snap *Snapshot) error

	// Load retrieves a snapshot by key.
	// It MUST return (nil, nil) if the snapshot does not exist.
	Load(ctx context.Context, key string) (*Snapshot, error)

	// List describes every stored snapshot, ordered by key.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a snapshot. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources such as file locks and connections.
	Close() error
}

// Open returns the backend described by rawURL:
//
//	memory://                  process memory
//	file:///var/lib/ticktree   a directory (a bare path works too)
//	redis://host:6379/0        a Redis database
func Open(ctx context.Context, rawURL string) (Backend, error) {
	loc, err := parseLocation(rawURL)
	if err != nil {
		return nil, err
	}
	switch loc.scheme {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		return NewFileSystemBackend(loc.path)
	default:
		return DialRedis(ctx, rawURL)
	}
}

// CheckURL reports whether Open understands rawURL, without opening it.
func CheckURL(rawURL string) error {
	_, err := parseLocation(rawURL)
	return err
}

type location struct {
	// scheme is memory, file or redis.
	scheme string
	path   string
}

func parseLocation(rawURL string) (location, error) {
	if rawURL == "" {
		return location{}, errors.New("storage url cannot be empty")
	}
	if !strings.Contains(rawURL, "://") {
		return location{scheme: "file", path: rawURL}, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return location{}, fmt.Errorf("invalid storage url: %w", err)
	}
	switch u.Scheme {
	case "memory", "mem":
		return location{scheme: "memory"}, nil
	case "file":
		if u.Path == "" {
			return location{}, fmt.Errorf("storage url %q has no path", rawURL)
		}
		return location{scheme: "file", path: u.Path}, nil
	case "redis", "rediss":
		if u.Host == "" {
			return location{}, fmt.Errorf("storage url %q has no host", rawURL)
		}
		return location{scheme: "redis"}, nil
	default:
		return location{}, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}

func marshalSnapshot(snap *Snapshot) ([]byte, error) {
	if snap.Key == "" {
		return nil, ErrEmptyKey
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func unmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
