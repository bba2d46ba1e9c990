package jimeng

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"seevideo/automation/internal/config"
	"seevideo/automation/pkg/downloader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerOrder(t *testing.T) {
	texts := []string{"视频生成", "视频 3.0", "16:9", "5s"}
	assert.Nil(t, triggerOrder(texts, "16:9"))
	assert.Nil(t, triggerOrder(texts, "5s"))
	assert.Equal(t, []int{1, 2, 3}, triggerOrder(texts, "10s"))
	assert.Empty(t, triggerOrder([]string{"视频生成"}, "10s"))
}

func TestFrameSources(t *testing.T) {
	opts := Options{
		StartFramePath: "/data/start.png",
		StartFrameURL:  "https://cdn.test/start.png",
		EndFrameURL:    "https://cdn.test/end.jpg",
		ReferencePaths: []string{"/data/r1.png", ""},
		ReferenceURLs:  []string{"https://cdn.test/r2.webp"},
	}

	firstLast := frameSources(FrameModeFirstLast, opts)
	require.Len(t, firstLast, 2)
	assert.Equal(t, frameSource{slot: 0, path: "/data/start.png", url: "https://cdn.test/start.png"}, firstLast[0])
	assert.Equal(t, frameSource{slot: 1, url: "https://cdn.test/end.jpg"}, firstLast[1])

	omni := frameSources(FrameModeOmni, opts)
	require.Len(t, omni, 2)
	assert.Equal(t, "/data/r1.png", omni[0].path)
	assert.Equal(t, "https://cdn.test/r2.webp", omni[1].url)

	assert.Empty(t, frameSources(FrameModeFirstLast, Options{Prompt: "text only"}))
}

func TestImageExt(t *testing.T) {
	assert.Equal(t, ".jpg", imageExt("https://cdn.test/a/b.JPG?x-signature=1"))
	assert.Equal(t, ".webp", imageExt("https://cdn.test/r.webp"))
	assert.Equal(t, ".png", imageExt("https://cdn.test/image"))
	assert.Equal(t, ".png", imageExt("::bad"))
}

func TestResolveFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "start.png")
	require.NoError(t, os.WriteFile(local, []byte("local"), 0644))

	d := NewDriver(nil, config.JimengConfig{}, downloader.New(5*time.Second, 5), nil)

	files, cleanup, err := d.resolveFrames(context.Background(), []frameSource{
		{slot: 0, path: local, url: srv.URL + "/ignored.png"},
		{slot: 1, path: "/nope/end.png", url: srv.URL + "/end.jpg"},
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, local, files[0].path)
	assert.Equal(t, 1, files[1].slot)
	assert.Equal(t, ".jpg", filepath.Ext(files[1].path))

	data, err := os.ReadFile(files[1].path)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	cleanup()
	_, err = os.Stat(files[1].path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(local)
	assert.NoError(t, err, "caller files are kept")

	_, _, err = d.resolveFrames(context.Background(), []frameSource{{url: srv.URL + "/missing.png"}})
	assert.Error(t, err)

	_, _, err = d.resolveFrames(context.Background(), []frameSource{{path: "/nope/only.png"}})
	assert.Error(t, err)
}
