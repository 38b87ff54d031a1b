package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.Contains(t, r.URL.Path, "/openai/deployments/text-embedding-3-large/embeddings")
		assert.Equal(t, defaultAPIVersion, r.URL.Query().Get("api-version"))

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Return data out of order; the client must reassemble by index.
		resp := embeddingsResponse{Data: []embeddingDatum{
			{Index: 1, Embedding: []float64{0.3, 0.4}},
			{Index: 0, Embedding: []float64{0.1, 0.2}},
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret")
	vecs, err := client.Embed(context.Background(), []string{"page one", "page two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float64{0.1, 0.2}, vecs[0])
	assert.Equal(t, []float64{0.3, 0.4}, vecs[1])
}

func TestEmbedEmptyInput(t *testing.T) {
	t.Parallel()

	client := NewClient("http://unused", "key")
	vecs, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmbedBadIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := embeddingsResponse{Data: []embeddingDatum{{Index: 5, Embedding: []float64{1}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
}

func TestWithModel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/openai/deployments/custom-embed/embeddings")
		_ = json.NewEncoder(w).Encode(embeddingsResponse{Data: []embeddingDatum{{Index: 0, Embedding: []float64{1}}}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", WithModel("custom-embed"))
	_, err := client.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
}
