package ops

import (
	"context"

	"github.com/hpungsan/protkit/internal/predict"
)

// Binding estimates the affinity of two raw inputs with the synthetic
// binding model. Accessions are resolved first.
func Binding(ctx context.Context, r *Runner, raw1, raw2 string) (*predict.Binding, error) {
	seq1, err := r.Resolve(ctx, raw1)
	if err != nil {
		return nil, err
	}
	seq2, err := r.Resolve(ctx, raw2)
	if err != nil {
		return nil, err
	}
	return r.Mock.Binding(ctx, seq1, seq2)
}
