package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zefrenchwan/registries.git/tracing"
)

func TestNoopSpans(t *testing.T) {
	ctx, span := tracing.StartSpan(context.Background(), "tracing.Test")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	assert.Empty(t, tracing.GetTraceID(ctx), "no provider means no trace")
	assert.Empty(t, tracing.InjectHeaders(ctx))

	tracing.EndWithError(span, errors.New("failure"))
}
