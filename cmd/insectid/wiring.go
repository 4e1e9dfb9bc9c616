package main

import (
	"context"
	"fmt"
	"io"

	insectid "github.com/menta2k/insect-identifier"
	"github.com/menta2k/insect-identifier/internal/config"
	"github.com/menta2k/insect-identifier/internal/metrics"
	"github.com/menta2k/insect-identifier/pkg/capture"
	"github.com/menta2k/insect-identifier/pkg/client"
	"github.com/menta2k/insect-identifier/pkg/ollama"
	"github.com/menta2k/insect-identifier/pkg/openai"
	"github.com/menta2k/insect-identifier/pkg/store"
	"github.com/menta2k/insect-identifier/pkg/types"
)

func (a *app) processingOptions() types.ProcessingOptions {
	return types.ProcessingOptions{
		MaxDimension: a.cfg.Vision.MaxDimension,
		Quality:      a.cfg.Vision.Quality,
	}
}

// visionClient builds the configured provider
func (a *app) visionClient() (client.VisionClient, error) {
	if err := a.cfg.CheckCredentials(); err != nil {
		return nil, err
	}

	v := a.cfg.Vision
	switch v.Provider {
	case config.ProviderOllama:
		cfg := ollama.Config{Processing: a.processingOptions()}
		// The shared defaults name an OpenAI model and endpoint
		if v.BaseURL != openai.DefaultBaseURL {
			cfg.URL = v.BaseURL
		}
		if v.Model != openai.DefaultModel {
			cfg.Model = v.Model
		}
		return ollama.NewClient(cfg)
	case config.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:     v.APIKey,
			Model:      v.Model,
			BaseURL:    v.BaseURL,
			Timeout:    v.Timeout,
			Processing: a.processingOptions(),
		})
	}
	return nil, fmt.Errorf("unknown vision provider %q", v.Provider)
}

// openStore loads the collection. The returned closer releases the backend.
func (a *app) openStore(ctx context.Context) (*store.Store, io.Closer, error) {
	var (
		persister store.Persister
		closer    io.Closer = nopCloser{}
	)

	switch a.cfg.Store.Backend {
	case config.BackendSQLite:
		p, err := store.OpenSQLite(a.cfg.SQLitePath())
		if err != nil {
			return nil, nil, err
		}
		persister, closer = p, p
	default:
		p, err := store.NewFilePersister(a.cfg.Store.DataDir)
		if err != nil {
			return nil, nil, err
		}
		persister = p
	}

	st, err := store.New(ctx, persister, a.cfg.ImageDir(), store.WithImageQuality(a.cfg.Store.ImageQuality))
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return st, closer, nil
}

// identifier wires a client and store. needClient is false for commands
// that only read or edit the collection.
func (a *app) identifier(ctx context.Context, needClient bool) (*insectid.Identifier, io.Closer, error) {
	var vc client.VisionClient = client.Func(func(context.Context, []byte) (*types.AnalysisResult, error) {
		return nil, fmt.Errorf("no vision client configured")
	})
	if needClient {
		var err error
		if vc, err = a.visionClient(); err != nil {
			return nil, nil, err
		}
	}

	st, closer, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	metrics.Register()
	return insectid.New(vc, st), closer, nil
}

// bridge builds the camera bridge from the capture section
func (a *app) bridge() (*capture.Bridge, error) {
	orientation, err := capture.ParseOrientation(a.cfg.Capture.Orientation)
	if err != nil {
		return nil, err
	}
	camera, err := capture.NewCommandCamera(a.cfg.Capture.Command, a.cfg.Capture.Timeout)
	if err != nil {
		return nil, err
	}
	return capture.NewBridge(camera, capture.StaticOrientation(orientation)), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
