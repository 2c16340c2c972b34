package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/session"
)

type fakeApp struct {
	crawlReq  session.Request
	crawlResp crawler.Session
	crawlErr  error
	served    bool
	closed    bool
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeApp) Crawl(_ context.Context, req session.Request) (crawler.Session, error) {
	f.crawlReq = req
	return f.crawlResp, f.crawlErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

// withFakeApp swaps the app factory. Tests using it must not run in parallel.
func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, *config.Config) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommand(t *testing.T) {
	app := &fakeApp{crawlResp: crawler.Session{
		ID:     "8d6f3a4e-0c0f-4b7a-9a53-2f0d1c5b9e11",
		Status: crawler.SessionFinished,
		Seeds:  []string{"https://example.com/"},
	}}
	withFakeApp(t, app)

	out, err := execute(t, "crawl",
		"--session", "8D6F3A4E-0C0F-4B7A-9A53-2F0D1C5B9E11",
		"--previous", "1b4e28ba-2fa1-4d3b-a3f5-ef19b5a7633b",
		"https://example.com/")
	require.NoError(t, err)
	require.True(t, app.closed)
	require.Equal(t, "8d6f3a4e-0c0f-4b7a-9a53-2f0d1c5b9e11", app.crawlReq.SessionID)
	require.Equal(t, "1b4e28ba-2fa1-4d3b-a3f5-ef19b5a7633b", app.crawlReq.PreviousSessionID)
	require.Equal(t, []string{"https://example.com/"}, app.crawlReq.Seeds)

	var got crawler.Session
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, crawler.SessionFinished, got.Status)
}

func TestCrawlCommandRejectsBadSessionID(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "crawl", "--session", "not-a-uuid", "https://example.com/")
	require.Error(t, err)
	require.Empty(t, app.crawlReq.Seeds)
}

func TestCrawlCommandReportsFailure(t *testing.T) {
	withFakeApp(t, &fakeApp{crawlResp: crawler.Session{ID: "s", Status: crawler.SessionFailed, ErrorText: "boom"}})
	_, err := execute(t, "crawl", "https://example.com/")
	require.ErrorContains(t, err, "boom")

	withFakeApp(t, &fakeApp{crawlErr: session.ErrNoSeeds})
	_, err = execute(t, "crawl")
	require.ErrorIs(t, err, session.ErrNoSeeds)
}

func TestServeCommand(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	require.True(t, app.served)
	require.True(t, app.closed)
}

func TestAppFactoryError(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, *config.Config) (App, error) { return nil, errors.New("no database") }
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "serve")
	require.ErrorContains(t, err, "no database")
}
