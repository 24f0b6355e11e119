package domain

// Message is a single chat turn. Messages have no identity beyond their
// position in the session history and are immutable once appended.
type Message struct {
	Text       string `json:"text"`
	IsFromUser bool   `json:"isFromUser"`
}
