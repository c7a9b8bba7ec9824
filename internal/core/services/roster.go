// Package services holds the session's state machines: the remote peer
// roster, the inbound tile registry, the speaking detector and the local
// media controller.
package services

import (
	"sync"

	"go.uber.org/zap"

	"roomlink/internal/core/domain"
	"roomlink/internal/infrastructure/monitoring"
	"roomlink/internal/infrastructure/signal"
)

// Roster tracks the remote participants of the session. The local
// participant is filtered out by both peer id and user id, so the roster
// never echoes the client back to itself even when the server includes it.
type Roster struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]domain.PeerRecord

	selfPeerID domain.PeerID
	selfUserID domain.UserID

	logger  *zap.SugaredLogger
	metrics *monitoring.Collector
}

func NewRoster(selfUserID domain.UserID, logger *zap.SugaredLogger, metrics *monitoring.Collector) *Roster {
	return &Roster{
		peers:      make(map[domain.PeerID]domain.PeerRecord),
		selfUserID: selfUserID,
		logger:     logger,
		metrics:    metrics,
	}
}

// SetSelfPeerID records the peer id assigned by the server on join. The
// roster may already hold entries by then; any that turn out to be the
// local participant are dropped.
func (r *Roster) SetSelfPeerID(id domain.PeerID) {
	r.mu.Lock()
	r.selfPeerID = id
	if _, ok := r.peers[id]; ok {
		delete(r.peers, id)
	}
	r.mu.Unlock()
	r.publishCount()
}

func (r *Roster) isSelf(peerID domain.PeerID, userID domain.UserID) bool {
	if r.selfPeerID != "" && peerID == r.selfPeerID {
		return true
	}
	return userID != "" && userID == r.selfUserID
}

// ApplyList upserts every peer of a peer_list message. Peers absent from
// the list are kept; only peer_left removes. Returns the peers that are
// new relative to what the roster already held.
func (r *Roster) ApplyList(users []signal.UserInfo) []domain.PeerRecord {
	r.mu.Lock()
	var added []domain.PeerRecord
	for _, u := range users {
		peerID := domain.PeerID(u.PeerID)
		userID := domain.UserID(u.UserID)
		if r.isSelf(peerID, userID) {
			continue
		}
		rec := domain.PeerRecord{
			PeerID:        peerID,
			UserID:        userID,
			UserName:      u.UserName,
			AudioEnabled:  u.AudioEnabled,
			VideoEnabled:  u.VideoEnabled,
			ScreenEnabled: u.ScreenEnabled,
			Speaking:      u.Speaking,
		}
		if _, known := r.peers[peerID]; !known {
			added = append(added, rec)
		}
		r.peers[peerID] = rec
	}
	r.mu.Unlock()
	r.publishCount()
	return added
}

// ApplyJoined handles a peer_joined announcement. Flags the server omits
// default to media enabled, screen and speaking off. Returns the record
// and whether it was actually added.
func (r *Roster) ApplyJoined(msg signal.Message) (domain.PeerRecord, bool) {
	peerID := domain.PeerID(msg.PeerID)
	userID := domain.UserID(msg.UserID)
	if r.isSelf(peerID, userID) {
		return domain.PeerRecord{}, false
	}

	rec := domain.PeerRecord{
		PeerID:        peerID,
		UserID:        userID,
		UserName:      msg.UserName,
		AudioEnabled:  signal.Bool(msg.AudioEnabled, true),
		VideoEnabled:  signal.Bool(msg.VideoEnabled, true),
		ScreenEnabled: signal.Bool(msg.ScreenEnabled, false),
		Speaking:      signal.Bool(msg.Speaking, false),
	}

	r.mu.Lock()
	r.peers[peerID] = rec
	r.mu.Unlock()
	r.publishCount()
	return rec, true
}

// ApplyLeft removes a departed peer. Returns the record it held and
// whether it was present.
func (r *Roster) ApplyLeft(peerID domain.PeerID) (domain.PeerRecord, bool) {
	r.mu.Lock()
	rec, ok := r.peers[peerID]
	if ok {
		delete(r.peers, peerID)
	}
	r.mu.Unlock()
	if ok {
		r.publishCount()
	}
	return rec, ok
}

// ApplyMediaState updates a peer's audio/video/screen flags. A media_state
// can race ahead of the peer's peer_joined; an unknown peer gets a minimal
// record synthesized from the message so the update is not lost.
func (r *Roster) ApplyMediaState(msg signal.Message) (domain.PeerRecord, bool) {
	peerID := domain.PeerID(msg.PeerID)
	userID := domain.UserID(msg.UserID)

	r.mu.Lock()
	if r.isSelf(peerID, userID) {
		r.mu.Unlock()
		return domain.PeerRecord{}, false
	}
	rec, known := r.peers[peerID]
	if !known {
		r.logger.Debugw("media state ahead of peer_joined", "peerId", msg.PeerID)
		rec = domain.PeerRecord{PeerID: peerID, UserID: userID}
	}
	rec.AudioEnabled = signal.Bool(msg.AudioEnabled, rec.AudioEnabled)
	rec.VideoEnabled = signal.Bool(msg.VideoEnabled, rec.VideoEnabled)
	rec.ScreenEnabled = signal.Bool(msg.ScreenEnabled, rec.ScreenEnabled)
	r.peers[peerID] = rec
	r.mu.Unlock()
	if !known {
		r.publishCount()
	}
	return rec, true
}

// ApplySpeaking updates a peer's speaking flag.
func (r *Roster) ApplySpeaking(peerID domain.PeerID, speaking bool) (domain.PeerRecord, bool) {
	r.mu.Lock()
	rec, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return domain.PeerRecord{}, false
	}
	rec.Speaking = speaking
	r.peers[peerID] = rec
	r.mu.Unlock()
	return rec, true
}

// Get returns the record for peerID.
func (r *Roster) Get(peerID domain.PeerID) (domain.PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[peerID]
	return rec, ok
}

// Snapshot returns a copy of the current roster.
func (r *Roster) Snapshot() map[domain.PeerID]domain.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.PeerID]domain.PeerRecord, len(r.peers))
	for id, rec := range r.peers {
		out[id] = rec
	}
	return out
}

// Len reports the number of known remote peers.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Clear drops all peers, for disconnect teardown.
func (r *Roster) Clear() {
	r.mu.Lock()
	r.peers = make(map[domain.PeerID]domain.PeerRecord)
	r.selfPeerID = ""
	r.mu.Unlock()
	r.publishCount()
}

func (r *Roster) publishCount() {
	r.metrics.SetPeerCount(r.Len())
}
