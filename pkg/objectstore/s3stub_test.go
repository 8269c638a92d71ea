package objectstore

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// memoryS3 is a minimal in-process S3-compatible server backing the engine
// tests: enough of GetObject/PutObject/HeadObject/DeleteObject/
// ListObjectsV2 to exercise ObjectBackendEngine without a real bucket,
// grounded on the request shapes backend/s3/s3.go issues against a real
// provider.
type memoryS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	server  *httptest.Server
}

func newMemoryS3() *memoryS3 {
	m := &memoryS3{objects: make(map[string][]byte)}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *memoryS3) close() { m.server.Close() }

func (m *memoryS3) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]

	if len(parts) == 1 || parts[1] == "" {
		if r.URL.Query().Get("list-type") == "2" {
			m.listObjectsV2(w, r, bucket)
			return
		}
	}

	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	objKey := bucket + "/" + key

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.objects[objKey] = body
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	case http.MethodHead:
		m.mu.Lock()
		data, ok := m.objects[objKey]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		m.mu.Lock()
		data, ok := m.objects[objKey]
		m.mu.Unlock()
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>not found</Message><Key>`+key+`</Key></Error>`)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data)

	case http.MethodDelete:
		m.mu.Lock()
		delete(m.objects, objKey)
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *memoryS3) listObjectsV2(w http.ResponseWriter, r *http.Request, bucket string) {
	prefix := r.URL.Query().Get("prefix")
	m.mu.Lock()
	var keys []string
	for objKey := range m.objects {
		b, k, ok := strings.Cut(objKey, "/")
		if !ok || b != bucket {
			continue
		}
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		keys = append(keys, k)
	}
	m.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	sb.WriteString(fmt.Sprintf("<Name>%s</Name><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>", bucket, len(keys)))
	for _, k := range keys {
		sb.WriteString("<Contents><Key>" + k + "</Key></Contents>")
	}
	sb.WriteString(`</ListBucketResult>`)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, sb.String())
}
