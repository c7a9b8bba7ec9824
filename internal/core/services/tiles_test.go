package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomlink/internal/core/domain"
)

func newTestTiles() *TileRegistry {
	return NewTileRegistry(zap.NewNop().Sugar(), nil)
}

func TestTileAttributionFromStreamPrefix(t *testing.T) {
	reg := newTestTiles()

	tile := reg.Add("p2:cam-stream", domain.TrackKindVideo, "track-1")
	assert.Equal(t, domain.PeerID("p2"), tile.PeerID)
	assert.Equal(t, "p2:cam-stream/video/track-1", tile.ID)
	assert.Equal(t, domain.SourceCamera, tile.Source)
}

func TestTileIDUniqueAcrossKinds(t *testing.T) {
	reg := newTestTiles()

	audio := reg.Add("p2:stream", domain.TrackKindAudio, "t1")
	video := reg.Add("p2:stream", domain.TrackKindVideo, "t1")
	assert.NotEqual(t, audio.ID, video.ID)
	assert.Equal(t, 2, reg.Len())
}

func TestAnnouncedScreenStreamClassification(t *testing.T) {
	reg := newTestTiles()
	reg.SetScreenStream("p2", "screen-stream", true)

	tile := reg.Add("p2:screen-stream", domain.TrackKindVideo, "t1")
	assert.Equal(t, domain.SourceScreen, tile.Source)

	// Audio on the same stream is never a screen tile.
	audio := reg.Add("p2:screen-stream", domain.TrackKindAudio, "t2")
	assert.Equal(t, domain.SourceCamera, audio.Source)
}

func TestSecondVideoStreamHeuristic(t *testing.T) {
	reg := newTestTiles()

	cam := reg.Add("p2:main", domain.TrackKindVideo, "t1")
	assert.Equal(t, domain.SourceCamera, cam.Source)

	// No announcement yet, but the peer already shows a camera.
	screen := reg.Add("p2:extra", domain.TrackKindVideo, "t2")
	assert.Equal(t, domain.SourceScreen, screen.Source)
}

func TestLateAnnouncementReclassifies(t *testing.T) {
	reg := newTestTiles()
	reg.Add("p2:main", domain.TrackKindVideo, "t1")

	changed := reg.SetScreenStream("p2", "main", true)
	require.Len(t, changed, 1)
	assert.Equal(t, domain.SourceScreen, changed[0].Source)

	reverted := reg.SetScreenStream("p2", "main", false)
	require.Len(t, reverted, 1)
	assert.Equal(t, domain.SourceCamera, reverted[0].Source)
}

func TestRemoveByStream(t *testing.T) {
	reg := newTestTiles()
	reg.Add("p2:screen", domain.TrackKindVideo, "t1")
	reg.Add("p2:main", domain.TrackKindVideo, "t2")

	removed := reg.RemoveByStream("p2:screen")
	require.Len(t, removed, 1)
	assert.Equal(t, domain.StreamID("p2:screen"), removed[0].StreamID)
	assert.Equal(t, 1, reg.Len())

	assert.Empty(t, reg.RemoveByStream("p2:screen"))
}

func TestRemoveByPeer(t *testing.T) {
	reg := newTestTiles()
	reg.Add("p2:main", domain.TrackKindAudio, "t1")
	reg.Add("p2:main", domain.TrackKindVideo, "t2")
	reg.Add("p3:main", domain.TrackKindVideo, "t3")

	removed := reg.RemoveByPeer("p2")
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, reg.Len())
}

func TestReaddRefreshesTile(t *testing.T) {
	reg := newTestTiles()
	first := reg.Add("p2:main", domain.TrackKindVideo, "t1")
	second := reg.Add("p2:main", domain.TrackKindVideo, "t1")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, reg.Len())
}
