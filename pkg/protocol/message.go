package protocol

import "time"

// Message is one chat message as seen in a ticket channel.
type Message struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	IsBot      bool      `json:"is_bot"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}
