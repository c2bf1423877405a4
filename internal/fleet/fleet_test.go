package fleet

import (
	"encoding/json"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalSweeperRunsOnInterval(t *testing.T) {
	var count int32
	s := NewLocalSweeper(func() { atomic.AddInt32(&count, 1) }, 5*time.Millisecond)
	go s.Run()
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 3 }, time.Second, time.Millisecond)
}

func TestSweepHandlerRunsSweepWithoutScheduler(t *testing.T) {
	var ran bool
	handler := SweepHandler(func() { ran = true }, nil, time.Minute)

	req := httptest.NewRequest("POST", "/internal/sweep", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.True(t, ran)
	require.Equal(t, 204, rec.Code)
}

func TestGenBumpEventJSONRoundTrip(t *testing.T) {
	ev := GenBumpEvent{SearchID: "s1", Generation: 7, Timestamp: time.Now()}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	var got GenBumpEvent
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, ev.SearchID, got.SearchID)
	require.Equal(t, uint64(7), got.Generation)
	require.True(t, ev.Timestamp.Equal(got.Timestamp))
}
