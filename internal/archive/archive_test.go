package archive

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

var _ core.Archiver = Store(nil)

// fakeS3 answers the PutObject and GetObject calls the archive makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	bucket  string
}

type fakeObject struct {
	body        []byte
	contentType string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Path-style: /<bucket>/<key>
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	f.bucket = parts[0]
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return response(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			body := []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return response(http.StatusNotFound, body, http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return response(http.StatusOK, obj.body, http.Header{"Content-Type": {obj.contentType}}), nil
	}
	return response(http.StatusNotImplemented, nil, http.Header{}), nil
}

func response(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func newFakeS3(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	st, err := NewS3(context.Background(), S3Config{
		Bucket:          "ghg-archive",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: fake},
	})
	require.NoError(t, err)
	return st, fake
}

// ----------------------------------------------------------------------------
// Driver Conformance Tests
// ----------------------------------------------------------------------------

func TestStores(t *testing.T) {
	drivers := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemory() },
		"fs": func(t *testing.T) Store {
			st, err := NewFS(t.TempDir())
			require.NoError(t, err)
			return st
		},
		"s3": func(t *testing.T) Store {
			st, _ := newFakeS3(t)
			return st
		},
	}

	for name, open := range drivers {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			key := "imports/ds-1/job-1/emissions.csv"

			require.NoError(t, st.Put(ctx, key, []byte("a,b\n1,2\n"), "text/csv"))

			data, ct, err := st.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "a,b\n1,2\n", string(data))
			assert.Contains(t, ct, "text/csv")

			_, _, err = st.Get(ctx, "imports/ds-1/job-2/missing.csv")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.Error(t, st.Put(ctx, "../escape.csv", []byte("x"), ""))
			assert.Error(t, st.Put(ctx, "/abs.csv", []byte("x"), ""))
			assert.Error(t, st.Put(ctx, " ", []byte("x"), ""))
		})
	}
}

func TestS3UsesBucketAndContentType(t *testing.T) {
	st, fake := newFakeS3(t)
	require.NoError(t, st.Put(context.Background(), "imports/a/b/file.xlsx", []byte("PK"), "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))

	assert.Equal(t, "ghg-archive", fake.bucket)
	obj, ok := fake.objects["imports/a/b/file.xlsx"]
	require.True(t, ok)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", obj.contentType)
}

func TestMemoryCopiesData(t *testing.T) {
	m := NewMemory()
	buf := []byte("original")
	require.NoError(t, m.Put(context.Background(), "k", buf, ""))
	buf[0] = 'X'

	got, _, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
	assert.Equal(t, []string{"k"}, m.Keys())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = Open(ctx, Config{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)

	st, err = Open(ctx, Config{Driver: "fs", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FS{}, st)

	_, err = Open(ctx, Config{Driver: "s3"})
	assert.Error(t, err, "bucket is required")

	_, err = Open(ctx, Config{Driver: "gcs"})
	assert.Error(t, err)
}
