package domain

import "errors"

var (
	// ErrNotConnected is returned by operations that need an established
	// session (publish connection and signaling channel).
	ErrNotConnected = errors.New("client is not connected")

	// ErrAlreadyConnected is returned by Connect on a client that already
	// ran; one instance maps to one session.
	ErrAlreadyConnected = errors.New("client already connected")

	// ErrChannelClosed is returned when the signaling channel was closed;
	// a closed channel is terminal for the client instance.
	ErrChannelClosed = errors.New("signaling channel closed")

	// ErrNoSender is returned when the peer connection yields no usable
	// RTP sender for an attached track.
	ErrNoSender = errors.New("no rtp sender for track")

	// ErrNoTrack is returned when an acquired media source carries no track.
	ErrNoTrack = errors.New("media source has no track")
)
