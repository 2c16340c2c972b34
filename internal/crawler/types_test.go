package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusPredicates(t *testing.T) {
	t.Parallel()

	require.True(t, MethodGet.Valid())
	require.True(t, MethodHead.Valid())
	require.False(t, Method("POST").Valid())

	require.True(t, AccessCompleted.Final())
	require.True(t, AccessNotModified.Final())
	require.False(t, AccessAbandoned.Final(), "abandoned URLs may be rediscovered")

	require.False(t, SessionRunning.Terminal())
	for _, s := range []SessionStatus{SessionFinished, SessionCanceled, SessionFailed} {
		require.True(t, s.Terminal(), s)
	}
	require.True(t, CrawlTask{ClaimedBy: "w1"}.Claimed())
}

func TestResponseMimeType(t *testing.T) {
	t.Parallel()

	var nilResp *Response
	require.Empty(t, nilResp.MimeType())
	resp := &Response{Header: http.Header{"Content-Type": {" Text/HTML ; charset=utf-8"}}}
	require.Equal(t, "text/html", resp.MimeType())
}

func TestFetchResultHasChildURLs(t *testing.T) {
	t.Parallel()

	require.False(t, FetchResult{}.HasChildURLs())
	require.True(t, FetchResult{ChildURLs: []string{}}.HasChildURLs())
	require.False(t, FetchResult{Response: &Response{}, ChildURLs: []string{"x"}}.HasChildURLs())
}

func TestMultiAttemptFailure(t *testing.T) {
	t.Parallel()

	sizeErr := &SizeLimitError{URL: "https://a.test/", Limit: 10, Size: 20}
	err := fmt.Errorf("wrapped: %w", &MultiAttemptFailure{
		Method: MethodGet,
		URL:    "https://a.test/",
		Errors: []error{errors.New("reset"), sizeErr},
	})
	require.ErrorIs(t, err, ErrSizeLimitExceeded)
	require.Contains(t, err.Error(), "after 2 attempts")
	require.Contains(t, err.Error(), "attempt 1: reset")

	var got *SizeLimitError
	require.ErrorAs(t, err, &got)
	require.Equal(t, int64(20), got.Size)

	var status *StatusError
	require.False(t, errors.As(err, &status))
}
