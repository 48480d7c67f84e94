package propagation

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_PrunesOnTick(t *testing.T) {
	clk := clock.NewMock()
	reg := NewRegistry(nil, WithClock(clk), WithTTL(time.Minute))
	reg.RecordAnnounce(Announcement{DestinationHash: []byte{1}, PropagationEnabled: true})

	s := NewSweeper(reg, 30*time.Second, nil)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		clk.Add(30 * time.Second)
		return reg.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_DisabledWithoutInterval(t *testing.T) {
	clk := clock.NewMock()
	reg := NewRegistry(nil, WithClock(clk), WithTTL(time.Minute))
	reg.RecordAnnounce(Announcement{DestinationHash: []byte{1}, PropagationEnabled: true})

	s := NewSweeper(reg, 0, nil)
	s.Start(context.Background())
	clk.Add(time.Hour)
	s.Stop()

	assert.Equal(t, 1, reg.Len())
}
