package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/shohag/chatrelay/internal/delivery"
	"github.com/shohag/chatrelay/internal/models"
	"github.com/shohag/chatrelay/internal/storage"
)

const (
	testWebhookURL = "https://discord.com/api/webhooks/123/abc"
	testAvatar     = "https://cdn.discordapp.com/embed/avatars/0.png"
)

// rewriteTransport sends every request to the test server while keeping the
// original path, so production webhook URLs can be used verbatim.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = t.target.Host
	return t.base.RoundTrip(r)
}

type receivedPost struct {
	path    string
	content string
	files   map[string]string
}

// fakeDiscord stands in for the webhook API. probe and post can be swapped
// per test; the defaults answer like a healthy webhook.
type fakeDiscord struct {
	srv *httptest.Server

	gets  atomic.Int32
	posts atomic.Int32

	mu       sync.Mutex
	received []receivedPost
	probe    http.HandlerFunc
	post     http.HandlerFunc
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	fd := &fakeDiscord{}
	fd.probe = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"123","name":"Bot","avatar":null,"channel_id":"555","guild_id":"777","token":"abc"}`)
	}
	fd.post = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}

	fd.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fd.gets.Add(1)
			fd.mu.Lock()
			h := fd.probe
			fd.mu.Unlock()
			h(w, r)
		case http.MethodPost:
			fd.posts.Add(1)
			rp := receivedPost{path: r.URL.Path, files: map[string]string{}}
			if err := r.ParseMultipartForm(32 << 20); err == nil {
				rp.content = r.FormValue("content")
				for name, fhs := range r.MultipartForm.File {
					for _, fh := range fhs {
						rp.files[name] = fh.Filename + "|" + fh.Header.Get("Content-Type")
					}
				}
			}
			fd.mu.Lock()
			fd.received = append(fd.received, rp)
			h := fd.post
			fd.mu.Unlock()
			h(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(fd.srv.Close)
	return fd
}

func (fd *fakeDiscord) setProbe(h http.HandlerFunc) {
	fd.mu.Lock()
	fd.probe = h
	fd.mu.Unlock()
}

func (fd *fakeDiscord) setPost(h http.HandlerFunc) {
	fd.mu.Lock()
	fd.post = h
	fd.mu.Unlock()
}

func (fd *fakeDiscord) posted() []receivedPost {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return append([]receivedPost(nil), fd.received...)
}

func (fd *fakeDiscord) client() *http.Client {
	target, _ := url.Parse(fd.srv.URL)
	return &http.Client{Transport: rewriteTransport{target: target, base: http.DefaultTransport}}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memJournal struct {
	mu       sync.Mutex
	attempts []models.Attempt
}

func (j *memJournal) CreateAttempt(_ context.Context, a *models.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, *a)
	return nil
}

func (j *memJournal) ListAttempts(_ context.Context, endpointID string, _ int) ([]models.Attempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := []models.Attempt{}
	for _, a := range j.attempts {
		if a.EndpointID == endpointID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (j *memJournal) Migrate(context.Context) error { return nil }
func (j *memJournal) Close() error                  { return nil }

func testOptions() Options {
	return Options{
		WebhookPrefixes:   []string{"https://discord.com/api/webhooks/"},
		DefaultAvatar:     testAvatar,
		Cooldown:          5 * time.Second,
		ValidationTimeout: 5 * time.Second,
		MaxRetryWait:      10 * time.Second,
		RelayTimeout:      10 * time.Second,
		MaxFileSize:       8 << 20,
		MaxFiles:          10,
		FetchLimit:        50,
	}
}

type harness struct {
	svc     *Service
	discord *fakeDiscord
	clock   *fakeClock
	journal *memJournal
	slept   []time.Duration
}

func newHarness(t *testing.T, opts Options, reader ChannelReader) *harness {
	t.Helper()
	fd := newFakeDiscord(t)
	journal := &memJournal{}
	svc := NewService(opts, storage.NewMemory(), journal, delivery.NewSenderWithHTTPClient(fd.client()), reader, zerolog.Nop())

	h := &harness{svc: svc, discord: fd, clock: newFakeClock(), journal: journal}
	svc.validator.now = h.clock.Now
	svc.validator.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	return h
}

// fakeReader is a ChannelReader backed by fixed values.
type fakeReader struct {
	channel    *discordgo.Channel
	channelErr error
	perms      int64
	permsErr   error
	messages   []*discordgo.Message
	msgErr     error

	gotLimit int
}

func (f *fakeReader) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return f.channel, nil
}

func (f *fakeReader) Permissions(context.Context, string) (int64, error) {
	return f.perms, f.permsErr
}

func (f *fakeReader) Messages(_ context.Context, _ string, limit int) ([]*discordgo.Message, error) {
	f.gotLimit = limit
	return f.messages, f.msgErr
}
