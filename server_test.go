package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHost struct {
	server *httptest.Server
	store  *Store
	host   string
	cfg    *Config
}

func newTestHost(t *testing.T) *testHost {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Host.Database = filepath.Join(t.TempDir(), "host.db")

	store, err := NewStore(cfg.Host.Database, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.AddKey("test", "secret"))

	h := NewHost(cfg, store, NewRetention(cfg, store))
	ts := httptest.NewTLSServer(h.Handler())
	t.Cleanup(ts.Close)
	return &testHost{server: ts, store: store, host: strings.TrimPrefix(ts.URL, "https://"), cfg: cfg}
}

func (th *testHost) put(t *testing.T, key string, body []byte) *http.Response {
	req, err := http.NewRequest(http.MethodPut, th.server.URL+"/upload/image.png", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", basicAuth(key))
	resp, err := th.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHostRejectsBadKey(t *testing.T) {
	th := newTestHost(t)
	body, err := encodePNG(testCapture())
	require.NoError(t, err)

	resp := th.put(t, "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
}

func TestHostRejectsNonImage(t *testing.T) {
	th := newTestHost(t)

	resp := th.put(t, "secret", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHostRejectsLargeUpload(t *testing.T) {
	th := newTestHost(t)
	th.cfg.Host.MaxUploadBytes = 16
	body, err := encodePNG(testCapture())
	require.NoError(t, err)

	resp := th.put(t, "secret", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHostUploadAndServe(t *testing.T) {
	th := newTestHost(t)
	body, err := encodePNG(testCapture())
	require.NoError(t, err)

	resp := th.put(t, "secret", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply UploadReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, contentID(body), reply.Id)
	assert.Equal(t, "https://"+th.host+"/i/"+reply.Id+".png", reply.DisplayUrl)
	assert.Equal(t, len(body), reply.Size)
	assert.Equal(t, "image/png", reply.Type)

	again := th.put(t, "secret", body)
	var second UploadReply
	require.NoError(t, json.NewDecoder(again.Body).Decode(&second))
	assert.Equal(t, reply.DisplayUrl, second.DisplayUrl, "identical uploads share a URL")

	get, err := th.server.Client().Get(reply.DisplayUrl)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
	assert.Equal(t, "image/png", get.Header.Get("Content-Type"))
	served, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	assert.Equal(t, body, served)
}

func TestHostNotFound(t *testing.T) {
	th := newTestHost(t)

	for _, p := range []string{"/", "/i/missing.png", "/search"} {
		resp, err := th.server.Client().Get(th.server.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}
}

func TestHostPublicURL(t *testing.T) {
	th := newTestHost(t)
	th.cfg.Host.PublicUrl = "https://img.example.com/"
	body, err := encodePNG(testCapture())
	require.NoError(t, err)

	resp := th.put(t, "secret", body)
	var reply UploadReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "https://img.example.com/i/"+reply.Id+".png", reply.DisplayUrl)
}

func TestRetentionPurgesExpired(t *testing.T) {
	th := newTestHost(t)
	rt := NewRetention(th.cfg, th.store)
	now := time.Unix(1700000000, 0)
	rt.now = func() time.Time { return now }

	_, err := th.store.PutImage("old", "image/png", []byte{1}, now.Add(-time.Minute).Unix())
	require.NoError(t, err)
	_, err = th.store.PutImage("new", "image/png", []byte{2}, rt.Expiry())
	require.NoError(t, err)

	rt.purgeExpired()

	_, ok := th.store.GetImage("old", 0)
	assert.False(t, ok)
	_, ok = th.store.GetImage("new", now.Unix())
	assert.True(t, ok)
}

func TestStorePutImageExtendsExpiry(t *testing.T) {
	th := newTestHost(t)

	created, err := th.store.PutImage("id", "image/png", []byte{1}, 100)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = th.store.PutImage("id", "image/png", []byte{1}, 200)
	require.NoError(t, err)
	assert.False(t, created)

	img, ok := th.store.GetImage("id", 0)
	require.True(t, ok)
	assert.Equal(t, int64(200), img.Expiry)
}

func TestStoreTestKey(t *testing.T) {
	th := newTestHost(t)

	assert.True(t, th.store.TestKey("secret"))
	assert.True(t, th.store.TestKey("secret"), "cached")
	assert.False(t, th.store.TestKey("other"))
	assert.False(t, th.store.TestKey(""))
}

func TestUploaderAgainstHost(t *testing.T) {
	th := newTestHost(t)
	history := openTestHistory(t, 25)
	view := &fakeView{}
	u := NewUploader(testCapture(), th.server.Client(), history, &fakeDesktop{}, view, nil)

	require.NoError(t, u.Run(context.Background(), UploadConfig{Host: th.host, Key: "secret"}, false))
	require.Len(t, view.results, 1)
	assert.True(t, strings.HasPrefix(u.URL(), "https://"+th.host+"/i/"))

	_, ok := history.Get("fup-" + historyName(u.URL()))
	assert.True(t, ok)

	resp, err := th.server.Client().Get(u.URL())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploaderAgainstHostWrongKey(t *testing.T) {
	th := newTestHost(t)
	view := &fakeView{}
	u := NewUploader(testCapture(), th.server.Client(), &fakeHistory{}, &fakeDesktop{}, view, nil)

	err := u.Run(context.Background(), UploadConfig{Host: th.host, Key: "nope"}, false)
	require.Error(t, err)
	assert.Equal(t, []string{"Error transferring https://" + th.host + "/upload/image.png - server replied: Unauthorized"}, view.errors)
	assert.Empty(t, view.results)
}

func TestHostHidesExpiredImage(t *testing.T) {
	th := newTestHost(t)
	past := time.Now().Add(-time.Minute).Unix()
	_, err := th.store.PutImage("stale", "image/png", []byte{1}, past)
	require.NoError(t, err)

	resp, err := th.server.Client().Get(th.server.URL + "/i/stale.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "expired before the next purge")

	_, ok := th.store.GetImage("stale", past)
	assert.True(t, ok, "row is still present until purged")
}
