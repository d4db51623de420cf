package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	assert.True(t, Valid("openalex"))
	assert.True(t, Valid("pubmed"))
	assert.True(t, Valid("patents"))
	assert.False(t, Valid("scholar"))
	assert.False(t, Valid(""))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "OpenAlex", DisplayName(OpenAlex))
	assert.Equal(t, "PubMed", DisplayName(PubMed))
	assert.Equal(t, "Patents API", DisplayName(Patents))
	assert.Equal(t, "other", DisplayName(ID("other")))
}

type fakeAdapter struct {
	Adapter
	id ID
}

func (f fakeAdapter) ID() ID { return f.id }

func TestRegistry(t *testing.T) {
	r := NewRegistry(fakeAdapter{id: PubMed}, fakeAdapter{id: OpenAlex})

	_, ok := r.Lookup(PubMed)
	require.True(t, ok)

	_, ok = r.Lookup(Patents)
	assert.False(t, ok)

	assert.Equal(t, []ID{OpenAlex, PubMed}, r.IDs())
}

func TestCleanMarkup(t *testing.T) {
	t.Run("plain text passes through", func(t *testing.T) {
		assert.Equal(t, "tumor growth", CleanMarkup("  tumor growth  "))
	})

	t.Run("strips inline markup", func(t *testing.T) {
		assert.Equal(t, "BRCA1 in H2O", CleanMarkup("<i>BRCA1</i> in H<sub>2</sub>O"))
	})

	t.Run("strips JATS paragraphs and collapses whitespace", func(t *testing.T) {
		in := "<jats:p>Background:   gene\n editing</jats:p>"
		assert.Equal(t, "Background: gene editing", CleanMarkup(in))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, CleanMarkup(""))
	})
}
