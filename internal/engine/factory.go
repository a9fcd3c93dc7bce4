// Package engine selects the batch-processing integration at startup.
package engine

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/artifactflow/internal/config"
	"github.com/kiranshivaraju/artifactflow/internal/engine/glue"
	"github.com/kiranshivaraju/artifactflow/internal/engine/workflows"
	"github.com/kiranshivaraju/artifactflow/pkg/models"
)

// NewEngine constructs the engine named by cfg.Provider.
// Called once at server startup.
func NewEngine(ctx context.Context, cfg config.EngineConfig) (models.Engine, error) {
	switch cfg.Provider {
	case "glue":
		e, err := glue.NewEngine(ctx, cfg.Glue)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "workflows":
		e, err := workflows.NewEngine(ctx, cfg.Workflows)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q: must be one of glue, workflows", cfg.Provider)
	}
}
