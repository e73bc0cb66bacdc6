package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/chatplan/models"
)

const remoteList = `{"models":[
  {"id":"qwen-max","name":"Qwen Max","provider":"Alibaba","providerId":"dashscope","enabled":true,"toolCallType":"native"},
  {"id":"qwen-turbo","name":"Qwen Turbo","provider":"Alibaba","providerId":"dashscope","enabled":false,"toolCallType":"manual","toolCallModel":"qwen-max"}
]}`

type memCache struct {
	mu     sync.Mutex
	data   []byte
	getErr error
	sets   int
}

func (m *memCache) Get(context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	return m.data, m.data != nil, nil
}

func (m *memCache) Set(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.sets++
	return nil
}

func serve(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != ConfigPath || r.Header.Get("Accept") != "application/json" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func bundled(t *testing.T) []models.Model {
	t.Helper()
	list, err := Parse(defaultModels)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	return list
}

func TestRemoteListWins(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, remoteList)
	cache := &memCache{}
	c := New(srv.URL, WithCache(cache))

	list := c.GetModels(context.Background())
	require.Len(t, list, 2)
	assert.Equal(t, "qwen-max", list[0].ID)
	assert.Equal(t, models.ToolCallManual, list[1].ToolCallType)
	assert.Equal(t, "qwen-max", list[1].ToolCallModel)
	assert.Equal(t, 1, cache.sets)
}

func TestFallsBackToBundledList(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"html", http.StatusOK, "\n  <!DOCTYPE html><html><body>not found</body></html>"},
		{"server error", http.StatusInternalServerError, remoteList},
		{"not json", http.StatusOK, "models: []"},
		{"models missing", http.StatusOK, `{"items":[]}`},
		{"enabled missing", http.StatusOK, `{"models":[{"id":"a","name":"A","provider":"p","providerId":"p","toolCallType":"native"}]}`},
		{"bad tool call type", http.StatusOK, `{"models":[{"id":"a","name":"A","provider":"p","providerId":"p","enabled":true,"toolCallType":"auto"}]}`},
		{"tool call model not string", http.StatusOK, `{"models":[{"id":"a","name":"A","provider":"p","providerId":"p","enabled":true,"toolCallType":"manual","toolCallModel":3}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := serve(t, tc.status, tc.body)
			cache := &memCache{}
			c := New(srv.URL, WithCache(cache))
			assert.Equal(t, bundled(t), c.GetModels(context.Background()))
			assert.Zero(t, cache.sets)
		})
	}
}

func TestUnreachableRemoteFallsBack(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, remoteList)
	srv.Close()
	c := New(srv.URL)
	assert.Equal(t, bundled(t), c.GetModels(context.Background()))
}

func TestEmptyWhenEverythingFails(t *testing.T) {
	srv, _ := serve(t, http.StatusBadGateway, "")
	c := New(srv.URL)
	c.defaults = []byte(`{"models":[{"id":1}]}`)

	list := c.GetModels(context.Background())
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestCacheHitSkipsRemote(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, `{"models":[]}`)
	cache := &memCache{data: []byte(remoteList)}
	c := New(srv.URL, WithCache(cache))

	list := c.GetModels(context.Background())
	assert.Len(t, list, 2)
	assert.Zero(t, hits.Load())
}

func TestCacheErrorIsIgnored(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, remoteList)
	cache := &memCache{getErr: errors.New("connection refused")}
	c := New(srv.URL, WithCache(cache))

	assert.Len(t, c.GetModels(context.Background()), 2)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoadsAreCountedBySource(t *testing.T) {
	reg := prometheus.NewRegistry()
	good, _ := serve(t, http.StatusOK, remoteList)
	cache := &memCache{}
	c := New(good.URL, WithCache(cache), WithRegisterer(reg))
	c.GetModels(context.Background())
	c.GetModels(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(c.loads.WithLabelValues(SourceRemote)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loads.WithLabelValues(SourceCache)))
	n, err := testutil.GatherAndCount(reg, "chatplan_model_catalog_loads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestParse(t *testing.T) {
	_, err := Parse([]byte("<!doctype html>"))
	assert.ErrorIs(t, err, ErrHTMLResponse)

	_, err = Parse([]byte(`[]`))
	assert.ErrorIs(t, err, ErrInvalidList)

	list, err := Parse([]byte(`{"models":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestEnabled(t *testing.T) {
	list := bundled(t)
	enabled := Enabled(list)
	require.NotEmpty(t, enabled)
	for _, m := range enabled {
		assert.True(t, m.Enabled)
	}
	assert.Less(t, len(enabled), len(list))
	assert.NotNil(t, Enabled(nil))
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("").baseURL)
}
