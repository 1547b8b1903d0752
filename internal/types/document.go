package types

import "time"

const (
	DocumentKindText  = "text"
	DocumentKindCode  = "code"
	DocumentKindSheet = "sheet"
)

// Document is one version of a user artifact created by the document tools.
// Versions share an ID and are ordered by CreatedAt.
type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Suggestion struct {
	ID                string    `json:"id"`
	DocumentID        string    `json:"documentId"`
	DocumentCreatedAt time.Time `json:"documentCreatedAt"`
	UserID            string    `json:"userId"`
	OriginalText      string    `json:"originalText"`
	SuggestedText     string    `json:"suggestedText"`
	Description       string    `json:"description"`
	CreatedAt         time.Time `json:"createdAt"`
}
