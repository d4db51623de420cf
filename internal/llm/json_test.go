package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObject(t *testing.T) {
	t.Run("bare object", func(t *testing.T) {
		assert.Equal(t, `{"a":1}`, ExtractJSONObject(`{"a":1}`))
	})

	t.Run("object surrounded by prose", func(t *testing.T) {
		in := "Sure, here is the JSON you asked for:\n{\"refinedQuery\": \"x\"}\nLet me know if you need more."
		assert.Equal(t, `{"refinedQuery": "x"}`, ExtractJSONObject(in))
	})

	t.Run("nested objects stay balanced", func(t *testing.T) {
		in := `{"intent": {"primary": "a", "secondary": ["b"]}} trailing`
		assert.Equal(t, `{"intent": {"primary": "a", "secondary": ["b"]}}`, ExtractJSONObject(in))
	})

	t.Run("braces inside string values are ignored", func(t *testing.T) {
		in := `{"reasoning": "use {braces} carefully"} extra`
		assert.Equal(t, `{"reasoning": "use {braces} carefully"}`, ExtractJSONObject(in))
	})

	t.Run("escaped quotes inside strings", func(t *testing.T) {
		in := `{"a": "she said \"hi\" {"} tail`
		assert.Equal(t, `{"a": "she said \"hi\" {"}`, ExtractJSONObject(in))
	})

	t.Run("unbalanced object yields empty", func(t *testing.T) {
		assert.Empty(t, ExtractJSONObject(`{"a": 1`))
	})

	t.Run("no object yields empty", func(t *testing.T) {
		assert.Empty(t, ExtractJSONObject("no json here"))
	})
}

func TestExtractJSONArray(t *testing.T) {
	t.Run("array surrounded by prose", func(t *testing.T) {
		in := "Concepts:\n[\"crispr\", \"gene editing\"]\nDone."
		assert.Equal(t, `["crispr", "gene editing"]`, ExtractJSONArray(in))
	})

	t.Run("brackets inside strings are ignored", func(t *testing.T) {
		in := `["a[0]", "b"] rest`
		assert.Equal(t, `["a[0]", "b"]`, ExtractJSONArray(in))
	})

	t.Run("no array yields empty", func(t *testing.T) {
		assert.Empty(t, ExtractJSONArray("nothing"))
	})
}
