package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptrate/ragcore/pkg/config"
)

// fakeOllamaServer answers /api/embeddings, failing the request numbers
// listed in failOn (1-based).
func fakeOllamaServer(t *testing.T, dimension int, failOn ...int64) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		for _, f := range failOn {
			if n == f {
				http.Error(w, "model runner overloaded", http.StatusServiceUnavailable)
				return
			}
		}
		vec := make([]float32, dimension)
		for i := range vec {
			vec[i] = float32(i)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newOllamaForTest(t *testing.T, host string) *OllamaProvider {
	t.Helper()
	p, err := NewOllamaProvider(&config.LocalEmbedderConfig{Host: host, Model: "test-embed"}, 4, 0)
	require.NoError(t, err)
	return p
}

func TestOllamaTransientFailureAfterLoadIsNotFatal(t *testing.T) {
	srv, calls := fakeOllamaServer(t, 4, 2)
	p := newOllamaForTest(t, srv.URL)
	ctx := context.Background()

	_, err := p.Embed(ctx, []string{"first"})
	require.NoError(t, err)

	// The model has served a request, so a later server error must not
	// disable the provider.
	_, err = p.Embed(ctx, []string{"second"})
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))

	vectors, err := p.Embed(ctx, []string{"third"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestOllamaFirstCallFailureDisablesProvider(t *testing.T) {
	srv, calls := fakeOllamaServer(t, 4, 1, 2, 3)
	p := newOllamaForTest(t, srv.URL)
	ctx := context.Background()

	_, err := p.Embed(ctx, []string{"first"})
	require.Error(t, err)

	// Dead providers fail fast without contacting the server again.
	_, err = p.Embed(ctx, []string{"second"})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestOllamaCancellationDoesNotDisableProvider(t *testing.T) {
	srv, _ := fakeOllamaServer(t, 4)
	p := newOllamaForTest(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Embed(ctx, []string{"first"})
	require.Error(t, err)

	vectors, err := p.Embed(context.Background(), []string{"second"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
}
