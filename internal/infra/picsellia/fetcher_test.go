package picsellia

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jinford/dev-vision/internal/core/outlier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("image-bytes"))
	})
	mux.HandleFunc("/gone.png", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/huge.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	fetcher := NewFetcher(srv.Client())

	data, err := fetcher.Fetch(context.Background(), srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)

	_, err = fetcher.Fetch(context.Background(), srv.URL+"/gone.png")
	assert.ErrorIs(t, err, outlier.ErrFetchFailure)
	assert.Contains(t, err.Error(), "403")

	fetcher.maxBytes = 16
	_, err = fetcher.Fetch(context.Background(), srv.URL+"/huge.png")
	assert.ErrorIs(t, err, outlier.ErrFetchFailure)

	_, err = fetcher.Fetch(context.Background(), "http://127.0.0.1:0/unreachable.png")
	assert.ErrorIs(t, err, outlier.ErrFetchFailure)
}
