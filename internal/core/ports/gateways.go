package ports

import "context"

// MediaLookup resolves a media id to its public permalink
type MediaLookup interface {
	MediaPermalink(ctx context.Context, mediaID string) (string, error)
}

// CommentLookup reads comment metadata needed for private replies
type CommentLookup interface {
	// CommentParent returns the parent comment id, or "" for a top-level comment
	CommentParent(ctx context.Context, commentID string) (string, error)
}

// GenericElement is one card of a generic (carousel) template
type GenericElement struct {
	Title    string          `json:"title"`
	Subtitle string          `json:"subtitle,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
	Buttons  []GenericButton `json:"buttons,omitempty"`
}

// GenericButton is a web_url call-to-action
type GenericButton struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Messenger is the outbound send collaborator
type Messenger interface {
	SendPrivateReply(ctx context.Context, commentID, text string) error
	SendPublicReply(ctx context.Context, commentID, text string) error
	SendDirectText(ctx context.Context, recipientID, text string) error
	SendCarousel(ctx context.Context, recipientID string, elements []GenericElement) error
}
