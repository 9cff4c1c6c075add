package service

import (
	"context"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/ratelimit"
)

// RateLimitConfig configures a RateLimitService's underlying bucket.
type RateLimitConfig struct {
	Capacity         float64 `config:"capacity"`
	FlowRate         float64 `config:"flowRate"`
	MaxQueue         float64 `config:"maxQueue,optional"`
	InitialAvailable float64 `config:"initialAvailable,optional"`
}

// RateLimitService wraps a ratelimit.TokenBucket as a named, lifecycle
// managed component so applications and endpoints can reference it by
// name from configuration.
type RateLimitService struct {
	component.BaseComponent

	bucket *ratelimit.TokenBucket
}

// NewRateLimitService constructs a RateLimitService. The bucket is
// created eagerly since it carries no background goroutine (spec.md
// §4.2: "the bucket itself has no goroutine/thread").
func NewRateLimitService(ctx *component.ControlContext, name string, cfg RateLimitConfig) *RateLimitService {
	s := &RateLimitService{
		bucket: ratelimit.New(ratelimit.Config{
			Capacity:         cfg.Capacity,
			FlowRate:         cfg.FlowRate,
			MaxQueue:         cfg.MaxQueue,
			InitialAvailable: cfg.InitialAvailable,
		}),
	}
	s.Init(name, "RateLimitService", name, ctx)
	return s
}

// Bucket returns the underlying TokenBucket for endpoints/applications
// to call RequestGrant on.
func (s *RateLimitService) Bucket() *ratelimit.TokenBucket { return s.bucket }

// Start implements component.Lifecycle. There is no background work to
// launch; the bucket already exists.
func (s *RateLimitService) Start(ctx context.Context) error {
	if s.State() == component.StateNew {
		if err := s.Transition(component.StateStopped); err != nil {
			return err
		}
	}
	return s.Transition(component.StateRunning)
}

// Stop implements component.Lifecycle.
func (s *RateLimitService) Stop(ctx context.Context, willReload bool) error {
	if err := s.Transition(component.StateStopping); err != nil {
		return err
	}
	return s.Transition(component.StateStopped)
}
