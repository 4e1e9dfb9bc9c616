package insectid

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/insect-identifier/pkg/analysis"
	"github.com/menta2k/insect-identifier/pkg/capture"
	"github.com/menta2k/insect-identifier/pkg/client"
	"github.com/menta2k/insect-identifier/pkg/identify"
	"github.com/menta2k/insect-identifier/pkg/store"
	"github.com/menta2k/insect-identifier/pkg/types"
)

var fixedTime = time.Date(2025, 7, 14, 9, 30, 0, 0, time.UTC)

// createTestImage creates a simple test image
func createTestImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			if x > 20 && x < 40 && y > 13 && y < 26 {
				img.Set(x, y, color.RGBA{90, 60, 20, 255})
			} else {
				img.Set(x, y, color.RGBA{200, 220, 200, 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func centipede() *types.AnalysisResult {
	return &types.AnalysisResult{
		CommonName:        "House Centipede",
		ScientificName:    "Scutigera coleoptrata",
		Habitat:           "Damp basements",
		LifeStage:         "Adult",
		IsPest:            true,
		DangerLevel:       types.DangerLow,
		DangerDescription: "Bite is rarely serious.",
		HowToFind:         "Check bathrooms at night.",
		HowToEliminate:    "Reduce humidity.",
	}
}

// countingClient returns a fixed outcome and counts calls
type countingClient struct {
	result *types.AnalysisResult
	err    error
	calls  atomic.Int32
}

func (c *countingClient) Identify(ctx context.Context, image []byte) (*types.AnalysisResult, error) {
	c.calls.Add(1)
	return c.result, c.err
}

func newIdentifier(t *testing.T, vc client.VisionClient) *Identifier {
	t.Helper()
	dir := t.TempDir()
	p, err := store.NewFilePersister(filepath.Join(dir, "data"))
	require.NoError(t, err)
	st, err := store.New(context.Background(), p, filepath.Join(dir, "cache", store.ImageDirName))
	require.NoError(t, err)

	n := 0
	return New(vc, st,
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(func() string {
			n++
			return "rec-" + string(rune('0'+n))
		}),
	)
}

func TestIdentifyImage_SuccessSavesRecord(t *testing.T) {
	id := newIdentifier(t, &countingClient{result: centipede()})

	state, record := id.IdentifyImage(context.Background(), createTestImage(t))

	require.Equal(t, analysis.StatusSuccess, state.Status)
	require.NotNil(t, record)
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, "House Centipede", record.CommonName)
	assert.Equal(t, "Scutigera coleoptrata", record.ScientificName)
	assert.Equal(t, fixedTime, record.CapturedAt)
	assert.Equal(t, state.Result, record.BugResult)
	assert.FileExists(t, record.ImagePath)

	stored, ok := id.Store().Get("rec-1")
	require.True(t, ok)
	assert.Equal(t, *record, stored)
}

func TestIdentifyImage_FailureSavesNothing(t *testing.T) {
	id := newIdentifier(t, &countingClient{err: identify.NotAnInsect()})

	state, record := id.IdentifyImage(context.Background(), createTestImage(t))

	assert.Equal(t, analysis.StatusError, state.Status)
	assert.Equal(t, identify.MsgNotAnInsect, state.Message)
	assert.Nil(t, record)
	assert.Zero(t, id.Store().Len())
}

func TestIdentifyImage_ImageThatCannotBeStored(t *testing.T) {
	// The client accepts anything; the store cannot re-encode garbage
	id := newIdentifier(t, &countingClient{result: centipede()})

	state, record := id.IdentifyImage(context.Background(), []byte("raw sensor dump"))

	require.Equal(t, analysis.StatusSuccess, state.Status)
	require.NotNil(t, record)
	assert.False(t, record.HasImage())
	assert.Equal(t, 1, id.Store().Len())
}

func TestCaptureController_SavedOnlyOnce(t *testing.T) {
	id := newIdentifier(t, &countingClient{result: centipede()})

	c := id.NewCaptureController(createTestImage(t))
	c.Analyze(context.Background(), createTestImage(t))
	c.Refresh()

	assert.Equal(t, 1, id.Store().Len())

	c.Reset()
	c.Analyze(context.Background(), createTestImage(t))
	assert.Equal(t, 2, id.Store().Len())
	assert.Equal(t, "rec-2", id.Store().List()[0].ID)
}

func TestIdentifyFile(t *testing.T) {
	id := newIdentifier(t, &countingClient{result: centipede()})

	path := filepath.Join(t.TempDir(), "bug.png")
	require.NoError(t, os.WriteFile(path, createTestImage(t), 0o644))

	state, record, err := id.IdentifyFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusSuccess, state.Status)
	assert.NotNil(t, record)

	_, _, err = id.IdentifyFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestAnalyzeRecord(t *testing.T) {
	ctx := context.Background()
	vc := &countingClient{result: centipede()}
	id := newIdentifier(t, vc)

	// A record captured without a result yet
	record := types.CapturedRecord{ID: "pending", CommonName: "?", CapturedAt: fixedTime}
	record.ImagePath = id.Store().SaveImage(createTestImage(t), record.ID)
	require.NoError(t, id.Store().Add(ctx, record))

	state, err := id.AnalyzeRecord(ctx, "pending")
	require.NoError(t, err)
	require.Equal(t, analysis.StatusSuccess, state.Status)

	got, ok := id.Store().Get("pending")
	require.True(t, ok)
	require.True(t, got.IsAnalyzed())
	assert.Equal(t, "House Centipede", got.BugResult.CommonName)
	// Re-analysis never adds records
	assert.Equal(t, 1, id.Store().Len())
}

func TestAnalyzeRecord_ExistingResultIsKept(t *testing.T) {
	ctx := context.Background()
	id := newIdentifier(t, &countingClient{result: centipede()})

	original := &types.AnalysisResult{CommonName: "Silverfish", DangerLevel: types.DangerLow}
	record := types.CapturedRecord{ID: "done", CommonName: "Silverfish", CapturedAt: fixedTime, BugResult: original}
	record.ImagePath = id.Store().SaveImage(createTestImage(t), record.ID)
	require.NoError(t, id.Store().Add(ctx, record))

	state, err := id.AnalyzeRecord(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusSuccess, state.Status)

	got, _ := id.Store().Get("done")
	assert.Equal(t, "Silverfish", got.BugResult.CommonName)
}

func TestAnalyzeRecord_Errors(t *testing.T) {
	ctx := context.Background()
	id := newIdentifier(t, &countingClient{result: centipede()})

	_, err := id.AnalyzeRecord(ctx, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, id.Store().Add(ctx, types.CapturedRecord{ID: "no-image"}))
	_, err = id.AnalyzeRecord(ctx, "no-image")
	assert.ErrorIs(t, err, ErrNoImage)
}

// instantCamera delivers a fixed outcome synchronously
type instantCamera struct {
	data []byte
	err  error
}

func (instantCamera) SupportsRotationAngle(int) bool { return true }
func (instantCamera) SetRotationAngle(int)           {}
func (c instantCamera) CapturePhoto(deliver capture.Delegate) {
	deliver(c.data, c.err)
}

func TestCaptureAndIdentify(t *testing.T) {
	vc := &countingClient{result: centipede()}
	id := newIdentifier(t, vc)

	bridge := capture.NewBridge(instantCamera{data: createTestImage(t)}, capture.StaticOrientation(capture.OrientationPortrait))
	state, record, err := id.CaptureAndIdentify(context.Background(), bridge)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusSuccess, state.Status)
	require.NotNil(t, record)
	assert.Equal(t, int32(1), vc.calls.Load())
}

func TestCaptureAndIdentify_CaptureFailure(t *testing.T) {
	vc := &countingClient{result: centipede()}
	id := newIdentifier(t, vc)

	bridge := capture.NewBridge(instantCamera{err: errors.New("lens cap on")}, nil)
	_, record, err := id.CaptureAndIdentify(context.Background(), bridge)

	assert.ErrorIs(t, err, capture.ErrCaptureFailed)
	assert.Nil(t, record)
	assert.Zero(t, vc.calls.Load())
}

// failingPersister accepts loads but rejects every write
type failingPersister struct{}

func (failingPersister) Load(context.Context, string) ([]byte, error) { return nil, nil }
func (failingPersister) Save(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestPersistFailureDoesNotFailAttempt(t *testing.T) {
	st, err := store.New(context.Background(), failingPersister{}, t.TempDir())
	require.NoError(t, err)
	id := New(&countingClient{result: centipede()}, st)

	state, record := id.IdentifyImage(context.Background(), createTestImage(t))
	assert.Equal(t, analysis.StatusSuccess, state.Status)
	assert.NotNil(t, record)
}

func TestRemoveAndClearRecords(t *testing.T) {
	ctx := context.Background()
	id := newIdentifier(t, &countingClient{result: centipede()})

	_, first := id.IdentifyImage(ctx, createTestImage(t))
	_, second := id.IdentifyImage(ctx, createTestImage(t))
	require.NotNil(t, first)
	require.NotNil(t, second)

	require.NoError(t, id.RemoveRecord(ctx, first.ID))
	assert.NoFileExists(t, first.ImagePath)
	assert.ErrorIs(t, id.RemoveRecord(ctx, first.ID), ErrRecordNotFound)

	require.NoError(t, id.ClearRecords(ctx))
	assert.Zero(t, id.Store().Len())
	assert.NoFileExists(t, second.ImagePath)
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("GetVersion() = %s, want %s", GetVersion(), Version)
	}
}

func TestIdentifyImage_NilResultSavesNothing(t *testing.T) {
	id := newIdentifier(t, &countingClient{})

	state, record := id.IdentifyImage(context.Background(), createTestImage(t))
	assert.Equal(t, analysis.StatusError, state.Status)
	assert.Nil(t, record)
	assert.Zero(t, id.Store().Len())
}
