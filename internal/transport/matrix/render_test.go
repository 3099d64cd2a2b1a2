package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderText(t *testing.T) {
	body, labels := renderText("Pick:", [][]string{{"a", "b"}, {"c"}})
	assert.Equal(t, []string{"a", "b", "c"}, labels)
	assert.Equal(t, "Pick:\n\n1. a\n2. b\n3. c\n\nReply with a number or the option text.", body)

	body, labels = renderText("plain", nil)
	assert.Equal(t, "plain", body)
	assert.Nil(t, labels)
}

func TestRenderHTML(t *testing.T) {
	html, ok := renderHTML("**bold** text")
	assert.True(t, ok)
	assert.Equal(t, "<p><strong>bold</strong> text</p>", html)

	_, ok = renderHTML("just words")
	assert.False(t, ok)
}

func TestResolveChoice(t *testing.T) {
	labels := []string{"📃 Plain Text", "📊 CSV File"}
	assert.Equal(t, "📊 CSV File", resolveChoice("2", labels))
	assert.Equal(t, "📃 Plain Text", resolveChoice(" 1. ", labels))
	assert.Equal(t, "3", resolveChoice("3", labels))
	assert.Equal(t, "csv", resolveChoice("csv", labels))
}

func TestSlugifyAndStoreKey(t *testing.T) {
	assert.Equal(t, "errand_matrix.org", slugify("@errand:matrix.org"))
	assert.Equal(t, "a-b_c.d", slugify("a-b_c.d"))
	assert.Len(t, storeKey("@errand:matrix.org"), 32)
	assert.NotEqual(t, storeKey("@a:x"), storeKey("@b:x"))
}
