package mediasvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnplus/learnplus/core"
	logsvc "github.com/learnplus/learnplus/services/logger"
)

func newMuxTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/video/v1/assets", func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "id" || p != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Input []struct {
				URL string `json:"url"`
			} `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Input) == 0 || body.Input[0].URL == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_parameters","messages":["input is required"]}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"asset-1","status":"preparing","playback_ids":[{"id":"play-1","policy":"public"}]}}`))
	})
	mux.HandleFunc("/video/v1/assets/asset-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/video/v1/assets/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newMuxConf(baseURL, secret string) *core.Config {
	return &core.Config{TestMode: true, Media: core.MediaConfig{MuxBaseURL: baseURL, MuxTokenID: "id", MuxTokenSecret: secret}}
}

func TestMuxService(t *testing.T) {
	srv := newMuxTestServer(t)
	ctx := context.Background()
	conf := newMuxConf(srv.URL, "secret")
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	svc := NewMuxService(conf, logger)

	asset, err := svc.CreateAsset(ctx, "https://media.test/videos/1.mp4")
	require.NoError(t, err)
	assert.Equal(t, core.VideoAsset{AssetID: "asset-1", PlaybackID: "play-1"}, asset)

	_, err = svc.CreateAsset(ctx, "")
	assert.EqualError(t, err, "mux: invalid_parameters (400): [input is required]")

	assert.NoError(t, svc.DeleteAsset(ctx, "asset-1"))
	assert.NoError(t, svc.DeleteAsset(ctx, "gone"))

	bad := NewMuxService(newMuxConf(srv.URL, "wrong"), logger)
	_, err = bad.CreateAsset(ctx, "https://media.test/videos/1.mp4")
	assert.EqualError(t, err, "mux: unexpected status 401")
}

func TestMuxService_noRetry(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		// drop the connection once the request reached the server
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)

	conf := newMuxConf(srv.URL, "secret")
	var buf bytes.Buffer
	svc := NewMuxService(conf, logsvc.NewRollbarLogger(log.New(&buf, "", 0), conf))

	_, err := svc.CreateAsset(context.Background(), "https://media.test/videos/1.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating mux asset")
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func Test_restyLogger(t *testing.T) {
	conf := newMuxConf("", "")
	var buf bytes.Buffer
	l := restyLogger{logsvc.NewRollbarLogger(log.New(&buf, "", 0), conf)}

	l.Warnf("retrying %d\n", 1)
	l.Errorf("%v", "EOF")
	assert.Equal(t, "[WARN] mux: retrying 1\n[ERROR] mux: EOF\n", buf.String())
}
