package recorder

import (
	"context"
	"testing"

	"github.com/matryer/is"
)

func TestDetachedContextSurvivesCallerCancellation(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	detached := detachContext(ctx)

	cancel()

	is.True(ctx.Err() != nil)
	is.NoErr(detached.Err()) // queued writes should not fail with context canceled
}
