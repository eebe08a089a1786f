// Package renderbackend is the render_backend plugin kind (spec
// §4.10): the sink each tick's RenderPlan is finally handed to. The
// built-in backend logs the plan via log/slog, the same logging
// library the teacher uses for its daemon (cmd/bd/daemon_sync.go); a
// real display surface would implement the same Backend interface.
package renderbackend

import (
	"log/slog"

	"github.com/qiki-sim/radarcore/internal/types"
)

// Backend accepts one RenderPlan per tick.
type Backend interface {
	Emit(plan types.RenderPlan)
}

// SlogBackend logs each RenderPlan at debug level.
type SlogBackend struct {
	logger *slog.Logger
}

// NewSlogBackend returns a Backend that logs through logger, or
// slog.Default() if logger is nil.
func NewSlogBackend(logger *slog.Logger) *SlogBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogBackend{logger: logger}
}

func (b *SlogBackend) Emit(plan types.RenderPlan) {
	b.logger.Debug("render_plan",
		"targets_count", plan.TargetsCount,
		"lod", plan.LOD,
		"bitmap_scale", plan.BitmapScale,
		"frame_budget_ms", plan.FrameBudgetMs,
		"truth_state", string(plan.TruthState),
		"reason", plan.Reason,
	)
}
