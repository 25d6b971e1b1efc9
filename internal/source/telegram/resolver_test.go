package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

func TestResolverGetFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/getFile", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["file_id"] {
		case "ok":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"ok","file_size":1024,"file_path":"photos/file_1.jpg"}}`))
		case "huge":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"huge","file_size":31457280,"file_path":"videos/big.mp4"}}`))
		case "flaky":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: invalid file_id"}`))
		}
	}))
	defer srv.Close()

	r, err := NewResolver("TOKEN", srv.URL, srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	url, err := r.Resolve(ctx, ingest.Candidate{MediaRef: "ok"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/file/botTOKEN/photos/file_1.jpg", url)

	_, err = r.Resolve(ctx, ingest.Candidate{MediaRef: "huge"})
	require.ErrorIs(t, err, ingest.ErrInvalidContent)

	_, err = r.Resolve(ctx, ingest.Candidate{MediaRef: "bogus"})
	require.ErrorIs(t, err, ingest.ErrInvalidContent)

	_, err = r.Resolve(ctx, ingest.Candidate{MediaRef: "flaky"})
	require.ErrorIs(t, err, ingest.ErrNetwork)

	direct, err := r.Resolve(ctx, ingest.Candidate{RawMediaURL: "https://example.com/a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.jpg", direct)

	_, err = NewResolver("", "", nil)
	require.Error(t, err)
}
