package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillmarket/backend/internal/logging"
)

func TestAsyncSinkKeepsRecentEvents(t *testing.T) {
	s := NewAsyncSink(logging.NewNop(), 16, 3)

	for i := 0; i < 5; i++ {
		s.Write(Event{TenantID: "t1", Action: "invoke_skill", TargetID: fmt.Sprintf("skill_%d", i), OK: true})
	}
	require.NoError(t, s.Close(context.Background()))

	recent := s.Recent(10)
	require.Len(t, recent, 3, "ring holds only the last keep entries")
	assert.Equal(t, "skill_2", recent[0].TargetID)
	assert.Equal(t, "skill_4", recent[2].TargetID)
	assert.False(t, recent[0].TS.IsZero(), "sink stamps events")
}

func TestAsyncSinkRecentLimit(t *testing.T) {
	s := NewAsyncSink(logging.NewNop(), 16, 10)
	for i := 0; i < 4; i++ {
		s.Write(Event{TenantID: "t1", Action: "invoke_skill", TargetID: fmt.Sprintf("s%d", i)})
	}
	require.NoError(t, s.Close(context.Background()))

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "s3", recent[1].TargetID)
}

func TestAsyncSinkCloseTimesOut(t *testing.T) {
	s := NewAsyncSink(logging.NewNop(), 16, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Close(ctx))
}
