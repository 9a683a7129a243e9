package posts

import (
	"net/url"
	"strconv"
	"time"
)

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformYouTube   Platform = "youtube"
)

// Platforms lists every platform a post can target.
var Platforms = []Platform{PlatformInstagram, PlatformTwitter, PlatformLinkedIn, PlatformYouTube}

func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPosted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Post is a scheduled social media post.
//
// CanEdit and CanCancel are computed by the service, which also takes the time left
// before ScheduledTime into account. They are authoritative and must not be derived
// from Status.
type Post struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id,omitempty"`
	Platform      Platform  `json:"platform"`
	Content       string    `json:"content"`
	MediaURL      *string   `json:"media_url,omitempty"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        Status    `json:"status"`
	CanEdit       bool      `json:"can_edit"`
	CanCancel     bool      `json:"can_cancel"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Input is the body for creating or updating a post.
type Input struct {
	Platform      Platform   `json:"platform,omitempty"`
	Content       string     `json:"content,omitempty"`
	MediaURL      *string    `json:"media_url,omitempty"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// Stats is returned by GET /posts/stats/.
type Stats struct {
	Total      int              `json:"total"`
	Pending    int              `json:"pending"`
	Posted     int              `json:"posted"`
	Failed     int              `json:"failed"`
	Cancelled  int              `json:"cancelled"`
	ByPlatform map[Platform]int `json:"by_platform"`
}

// ListFilter narrows GET /posts/.
type ListFilter struct {
	Platform Platform
	Status   Status
	Search   string
	Ordering string // e.g. "-scheduled_time"
	Page     int
}

// Values encodes the filter as query parameters, skipping empty fields.
func (f ListFilter) Values() url.Values {
	v := url.Values{}
	if f.Platform != "" {
		v.Set("platform", string(f.Platform))
	}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.Search != "" {
		v.Set("search", f.Search)
	}
	if f.Ordering != "" {
		v.Set("ordering", f.Ordering)
	}
	if f.Page > 1 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	return v
}

// Page is one page of the paginated post list.
type Page struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []Post  `json:"results"`
}
