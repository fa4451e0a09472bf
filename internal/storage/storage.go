// Package storage uploads audit artifacts (screenshots, reports) to object storage.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Uploader stores one artifact and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ScreenshotKey is the object key of a job screenshot.
func ScreenshotKey(jobID uuid.UUID, index int, isMobile bool, ext string) string {
	device := "desktop"
	if isMobile {
		device = "mobile"
	}
	return fmt.Sprintf("screenshots/%s/%d-%s.%s", jobID, index, device, ext)
}

// ReportKey is the object key of a job's public report.
func ReportKey(jobID uuid.UUID) string {
	return fmt.Sprintf("reports/%s.json", jobID)
}

// ExtensionFor maps an image MIME type to a file extension.
func ExtensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

// Object is an artifact held by MemoryUploader.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryUploader keeps artifacts in memory. Used for local runs and tests.
type MemoryUploader struct {
	baseURL string

	mu           sync.RWMutex
	objects      map[string]Object
	failPrefixes []string
}

// NewMemoryUploader creates an in-memory uploader that reports URLs under baseURL.
func NewMemoryUploader(baseURL string) *MemoryUploader {
	return &MemoryUploader{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]Object)}
}

// FailPrefix makes every later upload whose key starts with prefix fail.
func (m *MemoryUploader) FailPrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPrefixes = append(m.failPrefixes, prefix)
}

// Upload implements Uploader.
func (m *MemoryUploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.failPrefixes {
		if strings.HasPrefix(key, p) {
			return "", fmt.Errorf("upload %s: storage unavailable", key)
		}
	}
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return m.baseURL + "/" + key, nil
}

// Get returns a stored artifact.
func (m *MemoryUploader) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len returns the number of stored artifacts.
func (m *MemoryUploader) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
