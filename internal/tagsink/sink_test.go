package tagsink

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malloctag/mtag/pkg/mtagcompress"
)

type capturingSink struct {
	key  string
	body []byte
}

func (s *capturingSink) Write(_ context.Context, key string, r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.key = key
	s.body = body
	return nil
}

func TestCompressingSink_CompressesLargeBody(t *testing.T) {
	inner := &capturingSink{}
	gz := mtagcompress.NewGzipCompressor(mtagcompress.LevelDefault)
	sink := NewCompressingSink(inner, gz)

	// large enough to clear mtagcompress.MinCompressibleBytes.
	plain := []byte(`{"PID":1,"nTotalTrackedBytes":4096,"padding":"` + strings.Repeat("x", 1024) + `"}`)
	require.NoError(t, sink.Write(context.Background(), "snap.json", bytes.NewReader(plain)))

	assert.NotEqual(t, plain, inner.body)
	restored, err := gz.Decompress(inner.body)
	require.NoError(t, err)
	assert.Equal(t, plain, restored)
	assert.Contains(t, inner.key, "snap.json.gzip")
}

func TestCompressingSink_PassesThroughSmallBody(t *testing.T) {
	inner := &capturingSink{}
	gz := mtagcompress.NewGzipCompressor(mtagcompress.LevelDefault)
	sink := NewCompressingSink(inner, gz)

	plain := []byte(`{"PID":1,"nTotalTrackedBytes":4096}`)
	require.NoError(t, sink.Write(context.Background(), "snap.json", bytes.NewReader(plain)))

	assert.Equal(t, plain, inner.body)
	assert.Contains(t, inner.key, "snap.json.raw")
}
