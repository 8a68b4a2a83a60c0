package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministic(t *testing.T) {
	a := New().FeedString("hello").Finalize()
	b := New().FeedString("hello").Finalize()
	assert.Equal(t, a, b)
}

func TestOrderMatters(t *testing.T) {
	a := New().FeedString("a").FeedString("b").Finalize()
	b := New().FeedString("b").FeedString("a").Finalize()
	assert.NotEqual(t, a, b)
}

func TestEmptyIsStable(t *testing.T) {
	assert.Equal(t, Empty, New().Finalize())
}

func TestOf(t *testing.T) {
	assert.Equal(t, New().Feed([]byte("x")).Finalize(), Of([]byte("x")))
}

func TestFeedReturnsBuilderForChaining(t *testing.T) {
	b := New()
	assert.Same(t, b, b.Feed([]byte("a")))
}
