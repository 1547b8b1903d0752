package feedback

// Request rates one assistant message.
type Request struct {
	Feedback string `json:"feedback" binding:"omitempty,oneof=like dislike neutral none"`
	Comment  string `json:"comment,omitempty" binding:"max=2000"`
}

type Response struct {
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`
}
