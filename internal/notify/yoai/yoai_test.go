package yoai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/dispatch"
	"github.com/albapepper/collection-watch/internal/notify"
)

type directQueue struct{}

func (directQueue) Do(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

type request struct {
	multipart bool
	to        string
	text      string
	file      []byte
}

type fakeAPI struct {
	mu        sync.Mutex
	requests  []request
	rejectPNG bool
	status    int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pub/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KEY", r.Header.Get("X-YoAI-API-Key"))
		var req request
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			req.multipart = true
			req.to = r.FormValue("to")
			req.text = r.FormValue("text")
			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			req.file, _ = io.ReadAll(file)
		} else {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			req.to, req.text = body["to"], body["text"]
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		reject := f.rejectPNG && req.multipart
		status := f.status
		f.mu.Unlock()

		switch {
		case status != 0:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(status)
		case reject:
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		default:
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	})
	mux.HandleFunc("/img/ok.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "IMAGE")
	})
	mux.HandleFunc("/img/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return mux
}

func setup(t *testing.T) (*Client, *fakeAPI, *httptest.Server) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/pub", "KEY", "chan-1", directQueue{}, notify.NewFormatter(), nil), api, srv
}

func TestSendNewCollection_UploadsRemoteImage(t *testing.T) {
	c, api, srv := setup(t)
	col := collection.Collection{ID: 1, Name: "Alpha", Slug: "alpha", BgImage: srv.URL + "/img/ok.png"}

	require.NoError(t, c.SendNewCollection(context.Background(), col))
	require.Len(t, api.requests, 1)
	r := api.requests[0]
	assert.True(t, r.multipart)
	assert.Equal(t, "chan-1", r.to)
	assert.Equal(t, "IMAGE", string(r.file))
	assert.Contains(t, r.text, "📊 View: https://sss.ortak.me/collections/alpha/nfts")
}

func TestSendNewCollection_ImageFetchFailureFallsBack(t *testing.T) {
	c, api, srv := setup(t)
	col := collection.Collection{ID: 1, Name: "Alpha", Slug: "alpha", BgImage: srv.URL + "/img/missing.png"}

	require.NoError(t, c.SendNewCollection(context.Background(), col))
	require.Len(t, api.requests, 1)
	assert.False(t, api.requests[0].multipart)
}

func TestSendProgressChange_UploadFailureFallsBack(t *testing.T) {
	c, api, _ := setup(t)
	api.rejectPNG = true
	ev := notify.ProgressChange{Collection: collection.Collection{Name: "Alpha", Slug: "alpha", Percent: 12}, Previous: 10}

	require.NoError(t, c.SendProgressChange(context.Background(), ev, []byte("png")))
	require.Len(t, api.requests, 2)
	assert.True(t, api.requests[0].multipart)
	assert.False(t, api.requests[1].multipart)
	assert.Contains(t, api.requests[1].text, "🔗 View: ")
}

func TestSend_RateLimitedSurfaces(t *testing.T) {
	c, api, _ := setup(t)
	api.status = http.StatusTooManyRequests

	err := c.SendUpcomingRewards(context.Background(), []collection.Collection{{Name: "A", Slug: "a", RewardDate: 3600}}, false)
	var rl *dispatch.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestSend_EmptyDigestsSkipped(t *testing.T) {
	c, api, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, c.SendUpcomingRewards(ctx, nil, true))
	require.NoError(t, c.SendFinishingBatch(ctx, nil))
	require.NoError(t, c.SendPrivilegedProgressChange(ctx, notify.ProgressChange{}, nil))
	assert.Empty(t, api.requests)
}

func TestSendFinishingBatch_PlainText(t *testing.T) {
	c, api, _ := setup(t)
	items := []notify.FinishingItem{{Collection: collection.Collection{Name: "Snow", Slug: "snow", Type: collection.TypeSnowball, Percent: 130}}}

	require.NoError(t, c.SendFinishingBatch(context.Background(), items))
	require.Len(t, api.requests, 1)
	assert.Contains(t, api.requests[0].text, "🔗 https://sss.ortak.me/collections/snow/nfts")
	assert.NotContains(t, api.requests[0].text, "#EndingSnowballs")
}
