package blob

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"sync"
)

// Memory keeps objects in process. Used in development mode and tests.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
	types   map[string]string
	failure error
}

func NewMemory(baseURL string) *Memory {
	return &Memory{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// Fail makes later uploads return err until cleared with nil.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
}

func (m *Memory) Upload(_ context.Context, name string, r io.Reader, contentType string) error {
	m.mu.RLock()
	failure := m.failure
	m.mu.RUnlock()
	if failure != nil {
		return failure
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}

	m.mu.Lock()
	m.objects[name] = buf.Bytes()
	m.types[name] = contentType
	m.mu.Unlock()
	return nil
}

func (m *Memory) PublicURL(name string) string {
	return m.baseURL + "/" + url.PathEscape(name)
}

// Object returns a stored object and its content type.
func (m *Memory) Object(name string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[name]
	return b, m.types[name], ok
}
