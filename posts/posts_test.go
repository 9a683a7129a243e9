package posts_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/autopost-client/posts"
	"github.com/stretchr/testify/require"
)

func TestListFilter_Values(t *testing.T) {
	require.Empty(t, posts.ListFilter{}.Values().Encode())

	v := posts.ListFilter{
		Platform: posts.PlatformTwitter,
		Status:   posts.StatusPending,
		Search:   "launch",
		Ordering: "-scheduled_time",
		Page:     2,
	}.Values()
	require.Equal(t, "twitter", v.Get("platform"))
	require.Equal(t, "pending", v.Get("status"))
	require.Equal(t, "launch", v.Get("search"))
	require.Equal(t, "-scheduled_time", v.Get("ordering"))
	require.Equal(t, "2", v.Get("page"))
}

func TestPlatformAndStatusValid(t *testing.T) {
	require.True(t, posts.PlatformYouTube.Valid())
	require.False(t, posts.Platform("myspace").Valid())
	require.True(t, posts.StatusCancelled.Valid())
	require.False(t, posts.Status("draft").Valid())
}

func TestPost_FlagsAreTakenFromTheService(t *testing.T) {
	// A pending post inside the cutoff window is reported as not editable.
	body := `{"id":7,"platform":"linkedin","content":"hi","scheduled_time":"2026-10-15T10:00:00Z",
		"status":"pending","can_edit":false,"can_cancel":false,"created_at":"2026-10-14T10:00:00Z"}`

	var p posts.Post
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	require.Equal(t, posts.StatusPending, p.Status)
	require.False(t, p.CanEdit)
	require.False(t, p.CanCancel)
}
