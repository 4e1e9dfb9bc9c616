package client

import (
	"context"

	"github.com/menta2k/insect-identifier/pkg/types"
)

// VisionClient identifies the insect in an image. Implementations return
// errors of type *identify.Error for every failure they can classify.
type VisionClient interface {
	Identify(ctx context.Context, image []byte) (*types.AnalysisResult, error)
}

// Func adapts an ordinary function to VisionClient
type Func func(ctx context.Context, image []byte) (*types.AnalysisResult, error)

// Identify calls f(ctx, image)
func (f Func) Identify(ctx context.Context, image []byte) (*types.AnalysisResult, error) {
	return f(ctx, image)
}
