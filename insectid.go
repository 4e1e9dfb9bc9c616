// Package insectid identifies insects in photos and keeps a collection of
// what was found.
//
// A vision client (pkg/openai or pkg/ollama) turns a photo into a typed
// identification, an analysis.Controller tracks each attempt from Loading
// to Success or Error, and a store.Store keeps the successful captures.
//
// Basic usage:
//
//	vc, err := openai.NewClient(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")})
//	if err != nil {
//		log.Fatal(err)
//	}
//	persister, _ := store.NewFilePersister("./data")
//	collection, err := store.New(ctx, persister, "./cache/InsectImages")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	id := insectid.New(vc, collection)
//	state, record, err := id.IdentifyFile(ctx, "bug.jpg")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if state.Status == analysis.StatusSuccess {
//		fmt.Println(record.CommonName, state.Result.DangerLevel)
//	} else {
//		fmt.Println(state.Message)
//	}
package insectid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/menta2k/insect-identifier/internal/metrics"
	"github.com/menta2k/insect-identifier/pkg/analysis"
	"github.com/menta2k/insect-identifier/pkg/capture"
	"github.com/menta2k/insect-identifier/pkg/client"
	"github.com/menta2k/insect-identifier/pkg/processing"
	"github.com/menta2k/insect-identifier/pkg/store"
	"github.com/menta2k/insect-identifier/pkg/types"
)

// Version of the insect identifier
const Version = "1.0.0"

var (
	// ErrRecordNotFound is returned for an unknown record ID
	ErrRecordNotFound = errors.New("record not found")
	// ErrNoImage is returned when a record has no stored image to analyse
	ErrNoImage = errors.New("record has no image")
)

// Identifier ties a vision client to a collection
type Identifier struct {
	client    client.VisionClient
	store     *store.Store
	processor *processing.Processor
	now       func() time.Time
	newID     func() string
}

// Option configures an Identifier
type Option func(*Identifier)

// WithClock overrides time.Now for record timestamps
func WithClock(now func() time.Time) Option {
	return func(i *Identifier) {
		i.now = now
	}
}

// WithIDGenerator overrides the UUID generator for record IDs
func WithIDGenerator(newID func() string) Option {
	return func(i *Identifier) {
		i.newID = newID
	}
}

// New creates an Identifier
func New(vc client.VisionClient, st *store.Store, opts ...Option) *Identifier {
	i := &Identifier{
		client:    vc,
		store:     st,
		processor: processing.NewProcessor(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	metrics.RecordsStored.Set(float64(st.Len()))
	return i
}

// Store returns the collection
func (i *Identifier) Store() *store.Store {
	return i.store
}

// NewCaptureController returns a controller for a fresh photo. A successful
// attempt adds a new record, with the photo saved beside it.
func (i *Identifier) NewCaptureController(image []byte, opts ...analysis.Option) *analysis.Controller {
	return i.NewCaptureControllerWithRecord(image, nil, opts...)
}

// NewCaptureControllerWithRecord is NewCaptureController that also hands the
// stored record to saved
func (i *Identifier) NewCaptureControllerWithRecord(image []byte, saved func(types.CapturedRecord), opts ...analysis.Option) *analysis.Controller {
	onSaved := func(result *types.AnalysisResult) {
		record := i.saveCapture(image, result)
		if saved != nil {
			saved(record)
		}
	}
	base := []analysis.Option{
		analysis.WithObserver(metricsObserver()),
		analysis.WithOnSaved(onSaved),
	}
	return analysis.NewController(i.client, append(base, opts...)...)
}

// NewRecordController returns a controller that re-analyses a stored record.
// The result is attached only if the record has none yet.
func (i *Identifier) NewRecordController(record types.CapturedRecord, opts ...analysis.Option) *analysis.Controller {
	base := []analysis.Option{analysis.WithObserver(metricsObserver())}
	if !record.IsAnalyzed() {
		base = append(base, analysis.WithOnSaved(func(result *types.AnalysisResult) {
			i.attachResult(record.ID, result)
		}))
	}
	return analysis.NewController(i.client, append(base, opts...)...)
}

// IdentifyImage runs one capture attempt to completion. The record is
// non-nil only when the attempt succeeded.
func (i *Identifier) IdentifyImage(ctx context.Context, image []byte) (analysis.State, *types.CapturedRecord) {
	var record *types.CapturedRecord
	c := i.NewCaptureControllerWithRecord(image, func(r types.CapturedRecord) {
		record = &r
	})
	return c.Analyze(ctx, image), record
}

// IdentifyFile loads an image from a path or http(s) URL and identifies it
func (i *Identifier) IdentifyFile(ctx context.Context, source string) (analysis.State, *types.CapturedRecord, error) {
	data, err := i.processor.LoadImageSmart(source)
	if err != nil {
		return analysis.State{}, nil, fmt.Errorf("failed to load image: %w", err)
	}
	state, record := i.IdentifyImage(ctx, data)
	return state, record, nil
}

// CaptureAndIdentify takes a photo with bridge and identifies it. A capture
// failure is returned as an error and nothing is sent to the model.
func (i *Identifier) CaptureAndIdentify(ctx context.Context, bridge *capture.Bridge) (analysis.State, *types.CapturedRecord, error) {
	data, err := bridge.Capture(ctx)
	metrics.ObserveCapture(err)
	if err != nil {
		return analysis.State{}, nil, err
	}
	state, record := i.IdentifyImage(ctx, data)
	return state, record, nil
}

// AnalyzeRecord identifies the stored image of a record again
func (i *Identifier) AnalyzeRecord(ctx context.Context, id string) (analysis.State, error) {
	c, image, err := i.RecordController(id)
	if err != nil {
		return analysis.State{}, err
	}
	return c.Analyze(ctx, image), nil
}

// RecordController looks up a record and loads its image, returning a
// controller ready to Analyze it
func (i *Identifier) RecordController(id string, opts ...analysis.Option) (*analysis.Controller, []byte, error) {
	record, ok := i.store.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if !record.HasImage() {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoImage, id)
	}
	image, err := os.ReadFile(record.ImagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read image for %s: %w", id, err)
	}
	return i.NewRecordController(record, opts...), image, nil
}

// RemoveRecord deletes a record and its image
func (i *Identifier) RemoveRecord(ctx context.Context, id string) error {
	record, ok := i.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	err := i.store.Remove(ctx, record)
	i.afterMutation(err)
	return err
}

// ClearRecords deletes every record and image
func (i *Identifier) ClearRecords(ctx context.Context) error {
	err := i.store.Clear(ctx)
	i.afterMutation(err)
	return err
}

func (i *Identifier) saveCapture(image []byte, result *types.AnalysisResult) types.CapturedRecord {
	record := types.CapturedRecord{
		ID:             i.newID(),
		CommonName:     result.CommonName,
		ScientificName: result.ScientificName,
		CapturedAt:     i.now(),
		BugResult:      result,
	}
	record.ImagePath = i.store.SaveImage(image, record.ID)

	logger := log.WithFields(log.Fields{
		"id":          record.ID,
		"common_name": record.CommonName,
		"has_image":   record.HasImage(),
	})

	// The attempt may already be cancelled; the write must still happen
	err := i.store.Add(context.Background(), record)
	if err != nil {
		logger.WithError(err).Error("failed to persist record")
	} else {
		logger.Info("record saved")
	}
	i.afterMutation(err)
	return record
}

func (i *Identifier) attachResult(id string, result *types.AnalysisResult) {
	logger := log.WithField("id", id)

	found, err := i.store.AttachResult(context.Background(), id, result)
	switch {
	case err != nil:
		logger.WithError(err).Error("failed to persist result")
	case !found:
		logger.Warn("record removed before its result arrived")
	default:
		logger.WithField("common_name", result.CommonName).Info("result attached")
	}
	i.afterMutation(err)
}

func (i *Identifier) afterMutation(err error) {
	if err != nil {
		metrics.PersistErrorsTotal.Inc()
	}
	metrics.RecordsStored.Set(float64(i.store.Len()))
}

// metricsObserver times each attempt from Loading to its terminal state.
// Controllers deliver states one at a time, so started needs no lock.
func metricsObserver() analysis.Observer {
	var started time.Time
	return func(s analysis.State) {
		switch {
		case s.Status == analysis.StatusLoading:
			started = time.Now()
		case s.Terminal() && !started.IsZero():
			outcome := metrics.OutcomeSuccess
			if s.Status == analysis.StatusError {
				outcome = s.Kind.String()
			}
			metrics.ObserveAttempt(outcome, time.Since(started))
			started = time.Time{}
		case s.Status == analysis.StatusIdle:
			started = time.Time{}
		}
	}
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
