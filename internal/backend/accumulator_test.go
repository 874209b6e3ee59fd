package backend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-client/internal/model"
)

func tokenEvent(content string) model.StreamEvent {
	return model.StreamEvent{Type: model.EventTypeToken, Content: content}
}

func metadataEvent(sources ...model.Source) model.StreamEvent {
	return model.StreamEvent{Type: model.EventTypeMetadata, Sources: sources}
}

func TestAccumulatorFoldsTokensInOrder(t *testing.T) {
	acc := NewAccumulator()

	for _, ev := range []model.StreamEvent{
		tokenEvent("O RH"),
		tokenEvent(" atende"),
		tokenEvent(" das 8h às 17h."),
		{Type: model.EventTypeDone},
	} {
		require.NoError(t, acc.Apply(ev))
	}

	assert.Equal(t, "O RH atende das 8h às 17h.", acc.Text())
	assert.True(t, acc.Done())
	assert.Equal(t, 3, acc.TokenCount())
}

func TestAccumulatorIdempotentFold(t *testing.T) {
	events := []model.StreamEvent{
		tokenEvent("hello"),
		metadataEvent(model.Source{SourceID: "a", DisplayName: "A", RelevanceScore: 0.5}),
		tokenEvent(" world"),
		{Type: model.EventTypeDone},
	}

	run := func() (string, []model.Source) {
		acc := NewAccumulator()
		for _, ev := range events {
			require.NoError(t, acc.Apply(ev))
		}
		return acc.Text(), acc.Sources()
	}

	text1, sources1 := run()
	text2, sources2 := run()

	assert.Equal(t, text1, text2)
	assert.Equal(t, sources1, sources2)
}

func TestAccumulatorMonotonicProgress(t *testing.T) {
	acc := NewAccumulator()
	prev := ""

	for _, content := range []string{"a", "bc", "", "def"} {
		require.NoError(t, acc.Apply(tokenEvent(content)))
		cur := acc.Text()
		assert.True(t, strings.HasPrefix(cur, prev), "text %q must extend %q", cur, prev)
		prev = cur
	}
}

func TestAccumulatorLastMetadataWins(t *testing.T) {
	acc := NewAccumulator()

	a := model.Source{SourceID: "a", DisplayName: "First", RelevanceScore: 0.9}
	b := model.Source{SourceID: "b", DisplayName: "Second", RelevanceScore: 0.8}
	c := model.Source{SourceID: "c", DisplayName: "Third", RelevanceScore: 0.7}

	require.NoError(t, acc.Apply(metadataEvent(a)))
	require.NoError(t, acc.Apply(metadataEvent(b, c)))
	require.NoError(t, acc.Apply(model.StreamEvent{Type: model.EventTypeDone}))

	assert.Equal(t, []model.Source{b, c}, acc.Sources())
}

func TestAccumulatorErrorHaltsFold(t *testing.T) {
	acc := NewAccumulator()

	require.NoError(t, acc.Apply(tokenEvent("partial")))
	err := acc.Apply(model.StreamEvent{Type: model.EventTypeError, Message: "model crashed"})

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "model crashed", streamErr.Message)
	assert.True(t, acc.Done())

	// Events after the terminal one are ignored.
	require.NoError(t, acc.Apply(tokenEvent(" more")))
	assert.Equal(t, "partial", acc.Text())
}
