package social

import (
	"encoding/json"
	"time"
)

// Media is an attachment on a timeline item.
type Media struct {
	URL         string `json:"url"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Item is a post as seen on a timeline or in a thread.
type Item struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	Username       string    `json:"username"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationID string    `json:"conversation_id,omitempty"`
	InReplyToID    string    `json:"in_reply_to_id,omitempty"`
	Quoted         *Item     `json:"quoted,omitempty"`
	Media          []Media   `json:"media,omitempty"`
}

// PostRequest describes an outbound post. InReplyTo and QuoteOf are mutually
// exclusive in practice but both are passed through as given.
type PostRequest struct {
	Text      string
	InReplyTo string
	QuoteOf   string
	MediaIDs  []string
}

// SendResult is the interpreted outcome of a send call: Delivered or Rejected.
type SendResult interface {
	sendResult()
}

// Delivered means the network accepted the post.
type Delivered struct {
	ID        string
	Permalink string
}

// Rejected means the response did not carry the success path. Raw is the full
// response body.
type Rejected struct {
	Raw json.RawMessage
}

func (Delivered) sendResult() {}
func (Rejected) sendResult()  {}
