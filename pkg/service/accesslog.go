// Package service implements the pluggable "services" from spec.md §6/§4.7:
// AccessLogService, RateLimitService, and the supplemented
// ProcessInfoService. Each is a component.Lifecycle so the warehouse can
// start/stop it in the same ordered sweep as applications and endpoints.
package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/endpoint"
)

// AccessLogConfig configures an AccessLogService.
type AccessLogConfig struct {
	// MaxURLLength truncates logged URLs beyond this length. Zero means
	// unlimited, the Open Question decision in SPEC_FULL.md §5.2.
	MaxURLLength int `config:"maxURLLength,optional"`
}

// AccessLogService writes one line per request in the format from
// spec.md §6:
//
//	<iso-timestamp> <origin> <protocol> <method> <url> <status> <contentLengthOrNoBody> <duration> <status-codes|ok>
//
// grounded on the teacher's plain io.Writer logging in pkg/log, adapted
// from structured zerolog output to this fixed-format line since the
// access log is an external wire contract, not an operator-facing log.
type AccessLogService struct {
	component.BaseComponent

	cfg AccessLogConfig

	mu  sync.Mutex
	out *bufio.Writer
	w   io.Writer
}

// NewAccessLogService constructs an AccessLogService writing to w.
func NewAccessLogService(ctx *component.ControlContext, name string, cfg AccessLogConfig, w io.Writer) *AccessLogService {
	s := &AccessLogService{cfg: cfg, w: w}
	s.Init(name, "AccessLogService", name, ctx)
	return s
}

// Start implements component.Lifecycle.
func (s *AccessLogService) Start(ctx context.Context) error {
	if s.State() == component.StateNew {
		if err := s.Transition(component.StateStopped); err != nil {
			return err
		}
	}
	if err := s.Transition(component.StateRunning); err != nil {
		return err
	}
	s.mu.Lock()
	s.out = bufio.NewWriter(s.w)
	s.mu.Unlock()
	return nil
}

// Stop implements component.Lifecycle. Services "stop last and
// unconditionally" per spec.md §4.7, so Stop here is a simple flush.
func (s *AccessLogService) Stop(ctx context.Context, willReload bool) error {
	if err := s.Transition(component.StateStopping); err != nil {
		return err
	}
	s.mu.Lock()
	if s.out != nil {
		_ = s.out.Flush()
	}
	s.mu.Unlock()
	return s.Transition(component.StateStopped)
}

// Log writes one access-log line for entry.
func (s *AccessLogService) Log(entry endpoint.AccessLogEntry) {
	url := entry.URL
	if s.cfg.MaxURLLength > 0 && len(url) > s.cfg.MaxURLLength {
		url = url[:s.cfg.MaxURLLength]
	}
	contentLength := "-"
	if entry.ContentLength > 0 {
		contentLength = fmt.Sprintf("%d", entry.ContentLength)
	}
	outcome := "ok"
	if entry.Status >= 400 {
		outcome = fmt.Sprintf("%d", entry.Status)
	}

	line := fmt.Sprintf("%s %s %s %s %s %d %s %s %s\n",
		entry.Timestamp.UTC().Format(time.RFC3339),
		entry.Origin,
		entry.Protocol,
		entry.Method,
		url,
		entry.Status,
		contentLength,
		entry.Duration,
		outcome,
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		_, _ = s.out.WriteString(line)
		_ = s.out.Flush()
	}
}
