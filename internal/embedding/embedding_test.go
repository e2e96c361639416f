package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

func TestHashClient(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient("hash", WithDimensions(128))
	require.NoError(t, err)
	assert.Equal(t, 128, client.Dimensions())
	assert.Equal(t, "feature-hash-128", client.Name())

	t.Run("deterministic and normalized", func(t *testing.T) {
		a, err := client.Embed(ctx, "The quick brown fox jumps")
		require.NoError(t, err)
		b, err := client.Embed(ctx, "The quick brown fox jumps")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 128)
		assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
	})

	t.Run("related texts score higher", func(t *testing.T) {
		vecs, err := client.EmbedBatch(ctx, []string{
			"fox jumps",
			"The quick brown fox jumps. It runs fast.",
			"Completely unrelated content about oceans and tides.",
		})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))
	})

	t.Run("stopwords only gives zero vector", func(t *testing.T) {
		vec, err := client.Embed(ctx, "the and of")
		require.NoError(t, err)
		for _, x := range vec {
			assert.Zero(t, x)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := client.Embed(ctx, "   ")
		assert.True(t, IsCode(err, ErrCodeEmptyInput))

		_, err = client.EmbedBatch(ctx, []string{"ok", ""})
		assert.True(t, IsCode(err, ErrCodeEmptyInput))
	})
}

func TestNewClient_Unknown(t *testing.T) {
	_, err := NewClient("nope")
	assert.True(t, IsCode(err, ErrCodeInvalidRequest))
}

func newEmbeddingServer(t *testing.T, handler func(w http.ResponseWriter, req openAIRequest)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req openAIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeEmbeddings(w http.ResponseWriter, req openAIRequest) {
	var resp openAIResponse
	// 倒序返回，客户端需要按index还原
	for i := len(req.Input) - 1; i >= 0; i-- {
		resp.Data = append(resp.Data, struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Embedding: []float32{float32(len(req.Input[i])), 1, 0}, Index: i})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestOpenAIClient(t *testing.T) {
	ctx := context.Background()

	t.Run("batches and restores order", func(t *testing.T) {
		var calls int32
		srv := newEmbeddingServer(t, func(w http.ResponseWriter, req openAIRequest) {
			atomic.AddInt32(&calls, 1)
			assert.LessOrEqual(t, len(req.Input), 2)
			assert.Equal(t, "float", req.EncodingFormat)
			writeEmbeddings(w, req)
		})

		client, err := NewOpenAIClient(
			WithAPIKey("test-key"),
			WithBaseURL(srv.URL+"/v1/"),
			WithDimensions(3),
			WithBatchSize(2),
		)
		require.NoError(t, err)

		vecs, err := client.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		assert.Equal(t, float32(1), vecs[0][0])
		assert.Equal(t, float32(2), vecs[1][0])
		assert.Equal(t, float32(3), vecs[2][0])
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		srv := newEmbeddingServer(t, func(w http.ResponseWriter, req openAIRequest) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeEmbeddings(w, req)
		})

		client, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL(srv.URL+"/v1"), WithDimensions(0), WithMaxRetries(2))
		require.NoError(t, err)
		client.(*OpenAIClient).backoff = time.Millisecond

		vec, err := client.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Len(t, vec, 3)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("auth errors are not retried", func(t *testing.T) {
		var calls int32
		srv := newEmbeddingServer(t, func(w http.ResponseWriter, req openAIRequest) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		})

		client, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL(srv.URL+"/v1"), WithMaxRetries(3))
		require.NoError(t, err)

		_, err = client.Embed(ctx, "hello")
		assert.True(t, IsCode(err, ErrCodeInvalidAPIKey))
		assert.Contains(t, err.Error(), "bad key")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		srv := newEmbeddingServer(t, writeEmbeddings)
		client, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL(srv.URL+"/v1"), WithDimensions(8))
		require.NoError(t, err)

		_, err = client.Embed(ctx, "hello")
		assert.True(t, IsCode(err, ErrCodeBadResponse))
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := NewOpenAIClient()
		assert.True(t, IsCode(err, ErrCodeInvalidAPIKey))
	})
}
