package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageListRoundTrip(t *testing.T) {
	t.Parallel()

	h := PageHit{Pages: FormatPages([]int{1, 3, 7})}
	assert.Equal(t, "1;3;7", h.Pages)
	assert.Equal(t, []int{1, 3, 7}, h.PageList())
}

func TestPageListEmpty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, PageHit{}.PageList())
	assert.Empty(t, FormatPages(nil))
}

func TestPageListSkipsGarbage(t *testing.T) {
	t.Parallel()

	h := PageHit{Pages: "2; x ;4"}
	assert.Equal(t, []int{2, 4}, h.PageList())
}
