// Copyright (c) VoiceFlow Authors.
// Licensed under the MIT License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/voiceflow"
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/internal/telemetry"
	"github.com/BaSui01/voiceflow/orchestrator"
	"github.com/BaSui01/voiceflow/turn"
	"github.com/BaSui01/voiceflow/types"
)

// Server hosts the websocket session endpoint plus health and metrics.
//
// Session protocol on /v1/session?tenant=<id>&tier=<tier>:
//
//   - the client streams binary PCM16 frames; an empty binary message
//     ends the utterance
//   - the server streams binary audio chunks back, then a text control
//     message {"type": "..."} when the turn settles
//   - frames arriving while the agent is speaking feed barge-in
//     detection instead of the next utterance
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	core      *voiceflow.Core
	providers *telemetry.Providers

	httpSrv    *http.Server
	metricsSrv *http.Server
	errCh      chan error
}

// NewServer assembles the core with loopback media ports and builds the
// HTTP surfaces. Production deployments embed the library directly and
// supply provider-backed ports instead.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*Server, error) {
	core, err := voiceflow.New(cfg, loopbackPorts(), voiceflow.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("assemble core: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		core:      core,
		providers: providers,
		errCh:     make(chan error, 2),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/session", s.handleSession)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	return s, nil
}

// Start launches the HTTP listeners.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("session endpoint listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		s.logger.Info("metrics endpoint listening", zap.String("addr", s.metricsSrv.Addr))
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a signal or listener failure, then drains
// connections within the configured shutdown timeout.
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-s.errCh:
		s.logger.Error("listener failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := s.metricsSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics shutdown", zap.Error(err))
	}
	if err := s.core.Close(ctx); err != nil {
		s.logger.Warn("core shutdown", zap.Error(err))
	}
	if err := s.providers.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown", zap.Error(err))
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		http.Error(w, "tenant query parameter required", http.StatusBadRequest)
		return
	}
	tier := types.TenantTier(r.URL.Query().Get("tier"))
	if tier == "" {
		tier = types.TierStarter
	}

	session, err := s.core.Orchestrator.NewSession(tenantID, tier)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer session.Close()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session aborted")

	s.logger.Info("session connected",
		zap.String("session_id", session.ID),
		zap.String("tenant_id", tenantID),
		zap.String("tier", string(tier)))

	s.serveSession(r.Context(), conn, session)
	conn.Close(websocket.StatusNormalClosure, "session ended")
}

// serveSession runs the turn loop for one connection until the client
// disconnects.
func (s *Server) serveSession(ctx context.Context, conn *websocket.Conn, session *orchestrator.Session) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.Server.FramesPerSecond), s.cfg.Server.FrameBurst)

	msgs := make(chan []byte, 64)
	go func() {
		defer close(msgs)
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}
			// Over-rate frames are dropped, not queued.
			if len(data) > 0 && !limiter.Allow() {
				continue
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	var seq int
	for {
		frames := make(chan types.AudioFrame, 64)
		chunks, err := session.ProcessTurn(ctx, frames)
		if err != nil {
			s.logger.Warn("turn refused",
				zap.String("session_id", session.ID), zap.Error(err))
			s.writeControl(ctx, conn, "turn_refused")
			return
		}

		if !s.runTurn(ctx, conn, session, msgs, frames, chunks, &seq) {
			return
		}

		switch session.State() {
		case turn.StateListening:
			s.writeControl(ctx, conn, "turn_end")
		case turn.StateEscalating:
			// Surface the escalation, hand it off, and reopen the line.
			s.writeControl(ctx, conn, "escalated")
			if err := session.Handle(); err != nil {
				s.logger.Error("escalation handoff failed",
					zap.String("session_id", session.ID), zap.Error(err))
				return
			}
		default:
			s.writeControl(ctx, conn, "turn_end")
		}
	}
}

// runTurn feeds inbound frames to the pipeline and streams chunks back
// until the turn settles. Returns false when the connection is gone.
func (s *Server) runTurn(ctx context.Context, conn *websocket.Conn, session *orchestrator.Session,
	msgs <-chan []byte, frames chan<- types.AudioFrame, chunks <-chan types.AudioChunk, seq *int) bool {

	feeding := true
	connected := true
	for chunks != nil {
		select {
		case data, open := <-msgs:
			if !open {
				if feeding {
					close(frames)
					feeding = false
				}
				connected = false
				msgs = nil
				continue
			}
			if len(data) == 0 {
				if feeding {
					close(frames)
					feeding = false
				}
				continue
			}
			*seq++
			frame := types.AudioFrame{Data: data, Seq: *seq, Timestamp: time.Now()}
			if !feeding {
				session.FeedPlayback(frame)
				continue
			}
			select {
			case frames <- frame:
			default:
				// The pipeline stops reading once the utterance ends;
				// overflow from a client that never sends the terminator
				// counts as playback audio for barge-in detection.
				session.FeedPlayback(frame)
			}
		case chunk, open := <-chunks:
			if !open {
				if feeding {
					close(frames)
					feeding = false
				}
				chunks = nil
				continue
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk.Data); err != nil {
				s.logger.Debug("chunk write failed",
					zap.String("session_id", session.ID), zap.Error(err))
				session.Interrupt()
				connected = false
			}
		}
	}
	// The chunk channel closed, so the session state is final for this
	// turn.
	return connected
}

func (s *Server) writeControl(ctx context.Context, conn *websocket.Conn, kind string) {
	payload, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: kind})
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		s.logger.Debug("control write failed", zap.Error(err))
	}
}
