package tokens

// TokenQueue buffers detections between a session callback and the
// goroutine that processes them.
type TokenQueue struct {
	Tokens chan Token
}

// NewTokenQueue returns a queue with room for size pending tokens.
func NewTokenQueue(size int) *TokenQueue {
	return &TokenQueue{
		Tokens: make(chan Token, size),
	}
}

// TryEnqueue adds t without blocking and reports whether there was room.
func (q *TokenQueue) TryEnqueue(t Token) bool {
	select {
	case q.Tokens <- t:
		return true
	default:
		return false
	}
}
