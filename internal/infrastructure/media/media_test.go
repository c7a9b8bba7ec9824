package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomlink/pkg/errors"
)

func TestSyntheticMicAndCameraShareStream(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop().Sugar())

	mic, err := p.OpenMicrophone(context.Background())
	require.NoError(t, err)
	defer mic.Close()

	cam, err := p.OpenCamera(context.Background())
	require.NoError(t, err)
	defer cam.Close()

	assert.Equal(t, mic.StreamID(), cam.StreamID())

	screen, err := p.OpenScreen(context.Background())
	require.NoError(t, err)
	defer screen.Close()

	assert.NotEqual(t, mic.StreamID(), screen.StreamID())
}

func TestSyntheticMicrophoneEmitsLevels(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop().Sugar())

	mic, err := p.OpenMicrophone(context.Background())
	require.NoError(t, err)
	defer mic.Close()

	require.NotNil(t, mic.Levels())
	select {
	case <-mic.Levels():
	case <-time.After(2 * time.Second):
		t.Fatal("no level sample produced")
	}
}

func TestSyntheticVideoHasNoLevels(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop().Sugar())

	cam, err := p.OpenCamera(context.Background())
	require.NoError(t, err)
	defer cam.Close()

	assert.Nil(t, cam.Levels())
}

func TestCloseEndsSource(t *testing.T) {
	p := NewSyntheticProvider(zap.NewNop().Sugar())

	mic, err := p.OpenMicrophone(context.Background())
	require.NoError(t, err)

	require.NoError(t, mic.Close())
	select {
	case <-mic.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("source did not end after Close")
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	p := NewFileProvider(zap.NewNop().Sugar(), "/nonexistent/audio.ogg", "", "")

	_, err := p.OpenMicrophone(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDeviceNotFound, errors.CodeOf(err))
	assert.True(t, errors.IsDeviceError(err))
}

func TestFileProviderUnconfiguredPath(t *testing.T) {
	p := NewFileProvider(zap.NewNop().Sugar(), "", "", "")

	_, err := p.OpenCamera(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDeviceNotFound, errors.CodeOf(err))
}
