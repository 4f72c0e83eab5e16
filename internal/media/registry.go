// Package media hands out playable URLs for local files, in the manner of
// browser object URLs: a URL is valid from Create until Revoke.
package media

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const blobScheme = "blob:"

var ErrUnknownURL = errors.New("unknown or revoked media url")

type Registry struct {
	mu    sync.RWMutex
	blobs map[string]string
}

func NewRegistry() *Registry {
	return &Registry{blobs: make(map[string]string)}
}

func (r *Registry) Create(path string) string {
	playable := blobScheme + uuid.NewString()

	r.mu.Lock()
	r.blobs[playable] = path
	r.mu.Unlock()

	return playable
}

// Revoke is a no-op for URLs the registry did not mint.
func (r *Registry) Revoke(playable string) {
	r.mu.Lock()
	delete(r.blobs, playable)
	r.mu.Unlock()
}

// Resolve maps a playable URL to a filesystem path. Blob URLs must be live;
// file:// URLs and bare paths resolve to themselves.
func (r *Registry) Resolve(playable string) (string, error) {
	trimmed := strings.TrimSpace(playable)
	if trimmed == "" {
		return "", ErrUnknownURL
	}

	if strings.HasPrefix(trimmed, blobScheme) {
		r.mu.RLock()
		path, ok := r.blobs[trimmed]
		r.mu.RUnlock()
		if !ok {
			return "", ErrUnknownURL
		}
		return path, nil
	}

	if strings.HasPrefix(trimmed, "file://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", err
		}
		return filepath.FromSlash(parsed.Path), nil
	}

	return trimmed, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
