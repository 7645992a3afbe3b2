package aierr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(KindEmbedding, "embed", nil))

	err := Wrap(KindLLMTimeout, "complete", context.DeadlineExceeded)
	assert.Equal(t, KindLLMTimeout, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "LLM_TIMEOUT: complete: context deadline exceeded", err.Error())
}

func TestWrap_KeepsExistingKind(t *testing.T) {
	inner := Wrap(KindLLMTimeout, "complete", context.DeadlineExceeded)
	outer := Wrap(KindLLMFailed, "insight", fmt.Errorf("generate: %w", inner))

	assert.Equal(t, KindLLMTimeout, KindOf(outer))
}

func TestKindOf_Untagged(t *testing.T) {
	assert.Equal(t, KindUnclassified, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnclassified, KindOf(nil))
	assert.False(t, Is(nil, KindUnclassified))
	assert.True(t, Is(Wrap(KindVectorSearch, "query", errors.New("down")), KindVectorSearch))
}
