// internal/service/synchronizer.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"spark-service/internal/model"
	"spark-service/internal/state"
)

// Prompter asks the controller for its handshake and can force a reconnect.
// Commander implements it.
type Prompter interface {
	Version(ctx context.Context) error
	ResetConnection(ctx context.Context) error
}

// SynchronizerConfig holds handshake timing
type SynchronizerConfig struct {
	HandshakeTimeout  time.Duration
	HandshakeInterval time.Duration
}

// Synchronizer moves each new connection from connected to synchronized
type Synchronizer struct {
	cfg      SynchronizerConfig
	state    *state.StateMachine
	prompter Prompter
	logger   *zap.Logger
}

// NewSynchronizer creates a synchronizer
func NewSynchronizer(cfg SynchronizerConfig, sm *state.StateMachine, prompter Prompter, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		cfg:      cfg,
		state:    sm,
		prompter: prompter,
		logger:   logger.With(zap.String("component", "synchronizer")),
	}
}

// Repeat synchronizes every connection until ctx is cancelled
func (s *Synchronizer) Repeat(ctx context.Context) error {
	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.HandshakeInterval):
			}
		}
	}
}

// Run synchronizes a single connection and returns after it disconnects.
// Incompatible controllers stay acknowledged but are never synchronized.
func (s *Synchronizer) Run(ctx context.Context) error {
	if err := s.state.WaitConnected(ctx); err != nil {
		return err
	}

	if err := s.sync(ctx); err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, model.ErrIncompatibleFirmware):
			s.logger.Error("Incompatible firmware version detected")
		case errors.Is(err, model.ErrInvalidDeviceID):
			s.logger.Error("Invalid device ID detected")
		default:
			s.logger.Error("Failed to sync", zap.Error(err))
			if resetErr := s.prompter.ResetConnection(ctx); resetErr != nil {
				s.logger.Debug("Failed to reset connection", zap.Error(resetErr))
			}
			return err
		}
	}

	return s.state.WaitDisconnected(ctx)
}

func (s *Synchronizer) sync(ctx context.Context) error {
	if err := s.syncHandshake(ctx); err != nil {
		return err
	}
	if err := s.state.CheckCompatible(); err != nil {
		return err
	}
	if err := s.state.SetSynchronized(); err != nil {
		return err
	}
	s.logger.Info("Service synchronized!")
	return nil
}

// syncHandshake prompts the controller every interval until it is acknowledged
func (s *Synchronizer) syncHandshake(ctx context.Context) error {
	handshakeCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	var prompts sync.WaitGroup
	defer prompts.Wait()
	defer cancel()

	for !s.state.IsAcknowledged() {
		waitCtx, waitCancel := context.WithTimeout(handshakeCtx, s.cfg.HandshakeInterval)
		err := s.state.WaitAcknowledged(waitCtx)
		waitCancel()

		if err == nil {
			break
		}
		if handshakeCtx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("handshake timeout after %s", s.cfg.HandshakeTimeout)
		}

		prompts.Add(1)
		go func() {
			defer prompts.Done()
			// Controllers that are still booting do not answer
			if err := s.prompter.Version(handshakeCtx); err != nil {
				s.logger.Debug("Handshake prompt failed", zap.Error(err))
			}
		}()
	}

	return nil
}
