package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenEmpty(t *testing.T) {
	var nilToken *Token
	assert.True(t, nilToken.Empty())
	assert.True(t, (&Token{Text: "only text"}).Empty())
	assert.False(t, (&Token{UID: "04A1B2"}).Empty())
	assert.False(t, (&Token{Data: "68656C6C6F"}).Empty())
}

func TestWithReaderCopies(t *testing.T) {
	orig := Token{UID: "04A1B2", ScanTime: time.Now()}
	tagged := orig.WithReader("R1")

	assert.Equal(t, "R1", tagged.Reader)
	assert.Equal(t, "", orig.Reader)
	assert.Equal(t, orig.UID, tagged.UID)
}

func TestTokensEqual(t *testing.T) {
	a := &Token{UID: "01", Data: "AA"}
	b := &Token{UID: "01", Data: "AA", Reader: "other"}
	c := &Token{UID: "02"}

	assert.True(t, TokensEqual(nil, nil))
	assert.False(t, TokensEqual(a, nil))
	assert.True(t, TokensEqual(a, b))
	assert.False(t, TokensEqual(a, c))
}

func TestTokenQueue(t *testing.T) {
	q := NewTokenQueue(2)
	assert.True(t, q.TryEnqueue(Token{UID: "01"}))
	assert.True(t, q.TryEnqueue(Token{UID: "02"}))
	assert.False(t, q.TryEnqueue(Token{UID: "03"}))

	assert.Equal(t, "01", (<-q.Tokens).UID)
	assert.Equal(t, "02", (<-q.Tokens).UID)
	assert.True(t, q.TryEnqueue(Token{UID: "04"}))
}
