package checkpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		hub     string
		want    Source
		wantErr bool
	}{
		{
			name: "hub default",
			raw:  "hf://ardiantovn/big-lama/big-lama.onnx",
			want: Source{Scheme: SchemeHF, URL: "https://huggingface.co/ardiantovn/big-lama/resolve/main/big-lama.onnx"},
		},
		{
			name: "hub nested file",
			raw:  "hf://Carve/LaMa-ONNX/onnx/lama_fp32.onnx",
			hub:  "http://mirror.local/",
			want: Source{Scheme: SchemeHF, URL: "http://mirror.local/Carve/LaMa-ONNX/resolve/main/onnx/lama_fp32.onnx"},
		},
		{
			name: "https",
			raw:  "https://example.com/models/lama.onnx",
			want: Source{Scheme: SchemeHTTPS, URL: "https://example.com/models/lama.onnx"},
		},
		{
			name: "s3",
			raw:  "s3://models/lama/big-lama.onnx",
			want: Source{Scheme: SchemeS3, Bucket: "models", Key: "lama/big-lama.onnx"},
		},
		{name: "hub missing file", raw: "hf://owner/repo", wantErr: true},
		{name: "s3 missing key", raw: "s3://models", wantErr: true},
		{name: "unknown scheme", raw: "ftp://example.com/lama.onnx", wantErr: true},
		{name: "relative path", raw: "models/lama.onnx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSource(tt.raw, tt.hub)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func modelServer(t *testing.T, payload []byte) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/owner/repo/resolve/main/model.onnx" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchIfMissingDownloadsOnce(t *testing.T) {
	payload := []byte("onnx-bytes")
	srv, hits := modelServer(t, payload)

	f, err := NewFetcher(Config{Source: "hf://owner/repo/model.onnx", HubURL: srv.URL, Token: "secret"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "models", "big-lama.onnx")

	got, err := f.FetchIfMissing(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.NoFileExists(t, path+".part")

	_, err = f.FetchIfMissing(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestFetchIfMissingReplacesEmptyFile(t *testing.T) {
	srv, hits := modelServer(t, []byte("weights"))
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	f, err := NewFetcher(Config{Source: "hf://owner/repo/model.onnx", HubURL: srv.URL, Token: "secret"})
	require.NoError(t, err)

	_, err = f.FetchIfMissing(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestFetchIfMissingFailures(t *testing.T) {
	srv, _ := modelServer(t, []byte("weights"))

	tests := []struct {
		name   string
		source string
		token  string
	}{
		{"not found", "hf://owner/repo/other.onnx", "secret"},
		{"unauthorized", "hf://owner/repo/model.onnx", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFetcher(Config{Source: tt.source, HubURL: srv.URL, Token: tt.token})
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "model.onnx")
			_, err = f.FetchIfMissing(context.Background(), path)
			require.Error(t, err)
			assert.NoFileExists(t, path)
			assert.NoFileExists(t, path+".part")
		})
	}
}

func TestFetchIfMissingEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f, err := NewFetcher(Config{Source: srv.URL + "/model.onnx"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.onnx")
	_, err = f.FetchIfMissing(context.Background(), path)
	assert.Error(t, err)
	assert.NoFileExists(t, path)
}

type fakeGetter struct {
	payload []byte
	err     error
	bucket  string
	key     string
}

func (g *fakeGetter) FGetObject(_ context.Context, bucket, object, filePath string, _ minio.GetObjectOptions) error {
	g.bucket, g.key = bucket, object
	if g.err != nil {
		return g.err
	}
	return os.WriteFile(filePath, g.payload, 0o644)
}

func TestFetchIfMissingS3(t *testing.T) {
	getter := &fakeGetter{payload: []byte("weights")}
	f, err := NewFetcher(Config{Source: "s3://models/lama/big-lama.onnx"}, WithObjectGetter(getter))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "big-lama.onnx")
	_, err = f.FetchIfMissing(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "models", getter.bucket)
	assert.Equal(t, "lama/big-lama.onnx", getter.key)
	assert.FileExists(t, path)

	t.Run("get error", func(t *testing.T) {
		f, err := NewFetcher(Config{Source: "s3://models/missing.onnx"}, WithObjectGetter(&fakeGetter{err: errors.New("NoSuchKey")}))
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "missing.onnx")
		_, err = f.FetchIfMissing(context.Background(), path)
		assert.ErrorContains(t, err, "NoSuchKey")
		assert.NoFileExists(t, path)
	})
}

func TestNewFetcherS3RequiresEndpoint(t *testing.T) {
	_, err := NewFetcher(Config{Source: "s3://models/big-lama.onnx"})
	assert.Error(t, err)
}

func TestNewFetcherDefaultSource(t *testing.T) {
	f, err := NewFetcher(Config{})
	require.NoError(t, err)
	assert.Equal(t, SchemeHF, f.Source().Scheme)
	assert.Equal(t, "https://huggingface.co/ardiantovn/big-lama/resolve/main/big-lama.onnx", f.Source().URL)
}
