package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var pngBody = []byte("\x89PNG\r\n\x1a\nfake-image-bytes")

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithRetryDelay(time.Millisecond), WithPerHostRate(1000)}, opts...)
	return New(t.TempDir(), opts...)
}

func TestResolve_DownloadsOnceAcrossQueryStrings(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBody)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	ctx := context.Background()

	first, err := cache.Resolve(ctx, "bluenote", srv.URL+"/img/poster.png?v=1", "", "Jazz Night")
	require.NoError(t, err)
	require.True(t, first.Downloaded)
	require.False(t, first.Placeholder)

	second, err := cache.Resolve(ctx, "bluenote", srv.URL+"/img/poster.png?v=2#top", "", "Jazz Night")
	require.NoError(t, err)
	require.False(t, second.Downloaded)

	require.Equal(t, int32(1), gets.Load())
	require.Equal(t, first.File, second.File)
	require.Equal(t, first.PublicURL, second.PublicURL)
	require.Equal(t, srv.URL+"/img/poster.png", first.SourceURL)

	key := Key(srv.URL + "/img/poster.png")
	require.Equal(t, "/images/events/bluenote/"+key+".png", first.PublicURL)

	data, err := os.ReadFile(first.File)
	require.NoError(t, err)
	require.Equal(t, pngBody, data)
}

func TestResolve_ConcurrentCallersShareDownload(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write(pngBody)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	var wg sync.WaitGroup
	files := make([]string, 8)
	for i := range files {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := cache.Resolve(context.Background(), "site", srv.URL+"/shared.jpg", "", "k")
			require.NoError(t, err)
			files[i] = res.File
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), gets.Load())
	for _, f := range files {
		require.Equal(t, files[0], f)
	}
}

func TestResolve_RelativeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/events/img/a.gif", r.URL.Path)
		_, _ = w.Write(pngBody)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	res, err := cache.Resolve(context.Background(), "site", "img/a.gif", srv.URL+"/events/list.html", "k")
	require.NoError(t, err)
	require.Equal(t, ".gif", filepath.Ext(res.File))
	require.Equal(t, srv.URL+"/events/img/a.gif", res.SourceURL)
}

func TestResolve_ExtensionFromContentType(t *testing.T) {
	var heads, gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp; charset=binary")
		if r.Method == http.MethodHead {
			heads.Add(1)
			return
		}
		gets.Add(1)
		_, _ = w.Write(pngBody)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	res, err := cache.Resolve(context.Background(), "site", srv.URL+"/image?id=7", "", "k")
	require.NoError(t, err)
	require.Equal(t, ".webp", filepath.Ext(res.File))

	again, err := cache.Resolve(context.Background(), "site", srv.URL+"/image?id=8", "", "k")
	require.NoError(t, err)
	require.Equal(t, res.File, again.File)
	require.Equal(t, int32(1), heads.Load())
	require.Equal(t, int32(1), gets.Load())
}

func TestResolve_UnknownContentTypeDefaultsToJPG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngBody)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	res, err := cache.Resolve(context.Background(), "site", srv.URL+"/blob", "", "k")
	require.NoError(t, err)
	require.Equal(t, ".jpg", filepath.Ext(res.File))
}

func TestResolve_RetriesThenPlaceholder(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cache := newTestCache(t, WithMaxAttempts(3))
	res, err := cache.Resolve(context.Background(), "bluenote", srv.URL+"/broken.png", "", "Jazz Night")
	require.NoError(t, err)
	require.True(t, res.Placeholder)
	require.Equal(t, int32(3), gets.Load())
	require.Equal(t, PlaceholderName("Jazz Night"), filepath.Base(res.File))
	require.Equal(t, "/images/events/bluenote/"+PlaceholderName("Jazz Night"), res.PublicURL)

	data, err := os.ReadFile(res.File)
	require.NoError(t, err)
	require.Equal(t, defaultPlaceholderPNG, data)
}

func TestResolve_NotFoundIsNotRetried(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	res, err := cache.Resolve(context.Background(), "site", srv.URL+"/missing.png", "", "k")
	require.NoError(t, err)
	require.True(t, res.Placeholder)
	require.Equal(t, int32(1), gets.Load())
}

func TestResolve_OversizedImageFallsBackToPlaceholder(t *testing.T) {
	big := append(append([]byte{}, pngBody...), make([]byte, 4096)...)

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "declared content length",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				w.Header().Set("Content-Length", strconv.Itoa(len(big)))
				_, _ = w.Write(big)
			},
		},
		{
			name: "streamed without length",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				for i := 0; i < len(big); i += 512 {
					_, _ = w.Write(big[i:min(i+512, len(big))])
					w.(http.Flusher).Flush()
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gets atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodGet {
					gets.Add(1)
				}
				tt.handler(w, r)
			}))
			defer srv.Close()

			cache := newTestCache(t, WithMaxBytes(1024))
			ctx := context.Background()

			res, err := cache.Resolve(ctx, "bluenote", srv.URL+"/huge.png", "", "Jazz Night")
			require.NoError(t, err)
			require.True(t, res.Placeholder)
			require.False(t, res.Downloaded)
			require.Equal(t, int32(1), gets.Load())

			entries, err := os.ReadDir(filepath.Dir(res.File))
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.Equal(t, PlaceholderName("Jazz Night"), entries[0].Name())

			again, err := cache.Resolve(ctx, "bluenote", srv.URL+"/huge.png", "", "Jazz Night")
			require.NoError(t, err)
			require.True(t, again.Placeholder)
			require.Equal(t, int32(2), gets.Load())
		})
	}
}

func TestResolve_ImageAtSizeLimitIsKept(t *testing.T) {
	body := append(append([]byte{}, pngBody...), make([]byte, 1024-len(pngBody))...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cache := newTestCache(t, WithMaxBytes(1024))
	res, err := cache.Resolve(context.Background(), "bluenote", srv.URL+"/exact.png", "", "Jazz Night")
	require.NoError(t, err)
	require.False(t, res.Placeholder)

	data, err := os.ReadFile(res.File)
	require.NoError(t, err)
	require.Equal(t, body, data)
}

func TestResolve_EmptyURLUsesPlaceholder(t *testing.T) {
	custom := []byte("custom-placeholder")
	cache := newTestCache(t, WithPlaceholder(custom))

	a, err := cache.Resolve(context.Background(), "Blue Note!", "", "", "Jazz Night")
	require.NoError(t, err)
	b, err := cache.Resolve(context.Background(), "Blue Note!", "  ", "", "Jazz Night")
	require.NoError(t, err)
	c, err := cache.Resolve(context.Background(), "Blue Note!", "", "", "Other Show")
	require.NoError(t, err)

	require.True(t, a.Placeholder)
	require.Equal(t, a.File, b.File)
	require.NotEqual(t, a.File, c.File)
	require.Equal(t, "blue_note", filepath.Base(filepath.Dir(a.File)))

	data, err := os.ReadFile(a.File)
	require.NoError(t, err)
	require.Equal(t, custom, data)
}

func TestPlaceholderName(t *testing.T) {
	name := PlaceholderName("Jazz Night")
	require.Equal(t, name, PlaceholderName("Jazz Night"))
	require.Len(t, name, len("placeholder-")+16+len(".png"))
	require.NotEqual(t, name, PlaceholderName("jazz night"))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		base    string
		want    string
		wantErr bool
	}{
		{name: "strips query and fragment", raw: "HTTPS://Example.COM/a/b.png?x=1#f", want: "https://example.com/a/b.png"},
		{name: "relative path", raw: "../img/c.jpg", base: "https://example.com/events/list/", want: "https://example.com/events/img/c.jpg"},
		{name: "root relative", raw: "/img/c.jpg", base: "http://example.com/x/y", want: "http://example.com/img/c.jpg"},
		{name: "protocol relative without base", raw: "//cdn.example.com/p.png", want: "https://cdn.example.com/p.png"},
		{name: "relative without base", raw: "img/c.jpg", wantErr: true},
		{name: "data url", raw: "data:image/png;base64,AAAA", wantErr: true},
		{name: "ftp", raw: "ftp://example.com/a.png", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw, tt.base)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}
}

func TestSiteDir(t *testing.T) {
	require.Equal(t, "bluenote", SiteDir("BlueNote"))
	require.Equal(t, "unknown", SiteDir("../.."))
	require.Equal(t, "club_quattro", SiteDir("club quattro"))
}
