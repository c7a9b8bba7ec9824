package services

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"roomlink/internal/core/domain"
	"roomlink/internal/infrastructure/monitoring"
)

// TileRegistry indexes the inbound tracks by tile id and classifies video
// as camera or screen. Classification prefers the explicit screen_stream
// announcements from peers; when a video track arrives before its
// announcement, a peer that already shows a camera gets the new stream as
// a screen.
type TileRegistry struct {
	mu    sync.RWMutex
	tiles map[string]domain.Tile
	// screen stream id per peer, as announced (without owner prefix)
	screens map[domain.PeerID]domain.StreamID

	logger  *zap.SugaredLogger
	metrics *monitoring.Collector
}

func NewTileRegistry(logger *zap.SugaredLogger, metrics *monitoring.Collector) *TileRegistry {
	return &TileRegistry{
		tiles:   make(map[string]domain.Tile),
		screens: make(map[domain.PeerID]domain.StreamID),
		logger:  logger,
		metrics: metrics,
	}
}

// SetScreenStream records or clears a peer's announced screen stream and
// reclassifies any tiles already held for it.
func (t *TileRegistry) SetScreenStream(peerID domain.PeerID, streamID domain.StreamID, enabled bool) []domain.Tile {
	t.mu.Lock()
	if enabled {
		t.screens[peerID] = streamID
	} else {
		delete(t.screens, peerID)
	}

	var changed []domain.Tile
	for id, tile := range t.tiles {
		if tile.PeerID != peerID || tile.Kind != domain.TrackKindVideo {
			continue
		}
		source := domain.SourceCamera
		if enabled && rawStreamID(tile.StreamID) == streamID {
			source = domain.SourceScreen
		}
		if tile.Source != source {
			tile.Source = source
			tile.UpdatedAt = time.Now()
			t.tiles[id] = tile
			changed = append(changed, tile)
		}
	}
	t.mu.Unlock()
	return changed
}

// Add registers an inbound track and returns its tile. Adding the same
// stream/kind/track combination again refreshes the existing tile.
func (t *TileRegistry) Add(streamID domain.StreamID, kind domain.TrackKind, trackID string) domain.Tile {
	owner := domain.StreamOwner(streamID)
	id := domain.TileID(streamID, kind, trackID)

	t.mu.Lock()
	tile := domain.Tile{
		ID:        id,
		PeerID:    owner,
		StreamID:  streamID,
		TrackID:   trackID,
		Kind:      kind,
		Source:    t.classify(owner, streamID, kind),
		UpdatedAt: time.Now(),
	}
	t.tiles[id] = tile
	t.mu.Unlock()

	t.publishCount()
	t.logger.Infow("tile added", "tile", id, "peerId", string(owner), "source", string(tile.Source))
	return tile
}

// classify is called with the lock held.
func (t *TileRegistry) classify(owner domain.PeerID, streamID domain.StreamID, kind domain.TrackKind) domain.TrackSource {
	if kind != domain.TrackKindVideo {
		return domain.SourceCamera
	}
	if announced, ok := t.screens[owner]; ok && rawStreamID(streamID) == announced {
		return domain.SourceScreen
	}
	// A second video stream from a peer that already shows a camera is
	// taken for a screen until an announcement says otherwise.
	for _, tile := range t.tiles {
		if tile.PeerID == owner && tile.Kind == domain.TrackKindVideo &&
			tile.Source == domain.SourceCamera && tile.StreamID != streamID {
			return domain.SourceScreen
		}
	}
	return domain.SourceCamera
}

// RemoveByStream drops every tile of the given forwarded stream, for
// track_removed messages. Returns the removed tiles.
func (t *TileRegistry) RemoveByStream(streamID domain.StreamID) []domain.Tile {
	t.mu.Lock()
	var removed []domain.Tile
	for id, tile := range t.tiles {
		if tile.StreamID == streamID {
			removed = append(removed, tile)
			delete(t.tiles, id)
		}
	}
	t.mu.Unlock()
	if len(removed) > 0 {
		t.publishCount()
	}
	return removed
}

// RemoveByPeer drops every tile owned by a departed peer.
func (t *TileRegistry) RemoveByPeer(peerID domain.PeerID) []domain.Tile {
	t.mu.Lock()
	var removed []domain.Tile
	for id, tile := range t.tiles {
		if tile.PeerID == peerID {
			removed = append(removed, tile)
			delete(t.tiles, id)
		}
	}
	delete(t.screens, peerID)
	t.mu.Unlock()
	if len(removed) > 0 {
		t.publishCount()
	}
	return removed
}

// Snapshot returns a copy of all tiles.
func (t *TileRegistry) Snapshot() []domain.Tile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Tile, 0, len(t.tiles))
	for _, tile := range t.tiles {
		out = append(out, tile)
	}
	return out
}

// Len reports the number of active tiles.
func (t *TileRegistry) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tiles)
}

// Clear drops everything, for disconnect teardown.
func (t *TileRegistry) Clear() {
	t.mu.Lock()
	t.tiles = make(map[string]domain.Tile)
	t.screens = make(map[domain.PeerID]domain.StreamID)
	t.mu.Unlock()
	t.publishCount()
}

func (t *TileRegistry) publishCount() {
	t.metrics.SetTileCount(t.Len())
}

// rawStreamID strips the "<peerID>:" owner prefix the SFU adds when
// forwarding, recovering the id the publishing client chose.
func rawStreamID(streamID domain.StreamID) domain.StreamID {
	if i := strings.IndexByte(string(streamID), ':'); i > 0 {
		return streamID[i+1:]
	}
	return streamID
}
