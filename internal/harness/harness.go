// Package harness defines the boundary to the container test harness that
// validates generated artifacts. The production harness is external; this
// package carries its contract plus a local sandbox-backed probe harness used
// when no container runtime is reachable.
package harness

import (
	"context"
	"time"

	"mcpforge/internal/types"
)

// ResourceEnvelope bounds one artifact submission. Artifacts always run with
// networking disabled.
type ResourceEnvelope struct {
	CPUShare       float64       `json:"cpuShare"`
	MemoryBytes    int64         `json:"memoryBytes"`
	WallClock      time.Duration `json:"wallClock"`
	PerToolTimeout time.Duration `json:"perToolTimeout"`
}

// DefaultEnvelope is the fixed envelope every refinement submission uses.
func DefaultEnvelope() ResourceEnvelope {
	return ResourceEnvelope{
		CPUShare:       0.5,
		MemoryBytes:    256 << 20,
		WallClock:      2 * time.Minute,
		PerToolTimeout: 10 * time.Second,
	}
}

// Harness submits one artifact for validation and reports the verdict.
// Submission errors mean the harness itself failed; a failing artifact is a
// successful submission with Success=false.
type Harness interface {
	Submit(ctx context.Context, artifact *types.GeneratedArtifact, envelope ResourceEnvelope) (*types.TestOutcome, error)
}
