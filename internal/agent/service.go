package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rebekaee1/mgp-v2/internal/session"
	"github.com/rebekaee1/mgp-v2/pkg/ctxkeys"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrEmptySession   = errors.New("session id is required")
	ErrUnknownSession = errors.New("session not found")
)

// TurnRecord is one handled message, as persisted for analytics.
type TurnRecord struct {
	SessionID string
	ClientIP  string
	UserAgent string
	UserText  string
	Reply     Reply
	Latency   time.Duration
	Searches  []SearchRecord
}

// Recorder persists conversations. Failures are logged and never reach the
// client.
type Recorder interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
	CloseConversation(ctx context.Context, sessionID string) error
}

type ServiceConfig struct {
	Orchestrator *Orchestrator
	Logger       logging.Logger
	// Recorder is optional.
	Recorder   Recorder
	SessionTTL time.Duration
}

// Service is the caller boundary: one State per session id, messages of a
// session handled one at a time.
type Service struct {
	sessions     *session.Registry[*State]
	orchestrator *Orchestrator
	recorder     Recorder
	logger       logging.Logger
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	sessions := session.NewRegistry(NewState,
		session.WithTTL[*State](cfg.SessionTTL),
		session.WithHooks(session.Hooks[*State]{
			OnCreate: func(id string) {
				logger.WithField("session_id", id).Debug("Session created")
			},
			OnEvict: func(id string, _ *State) {
				logger.WithField("session_id", id).Debug("Session evicted")
			},
			OnSize: func(n int) { SessionsActive.Set(float64(n)) },
		}),
	)
	return &Service{
		sessions:     sessions,
		orchestrator: cfg.Orchestrator,
		recorder:     cfg.Recorder,
		logger:       logger,
	}
}

// Run sweeps idle sessions until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.sessions.Run(ctx, session.DefaultSweepInterval)
}

func (s *Service) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Reply{}, ErrEmptySession
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	var reply Reply
	var searches []SearchRecord
	started := time.Now()
	err := s.sessions.With(sessionID, func(st *State) error {
		var err error
		reply, err = s.orchestrator.Run(ctx, st, text)
		searches = st.TakeSearches()
		return err
	})
	if err != nil {
		return Reply{}, err
	}
	if reply.OfferCards == nil {
		reply.OfferCards = []OfferCard{}
	}

	if s.recorder != nil {
		rec := TurnRecord{
			SessionID: sessionID,
			ClientIP:  ctxkeys.GetClientIP(ctx),
			UserAgent: ctxkeys.GetUserAgent(ctx),
			UserText:  text,
			Reply:     reply,
			Latency:   time.Since(started),
			Searches:  searches,
		}
		if err := s.recorder.RecordTurn(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to record conversation turn")
		}
	}
	return reply, nil
}

// Reset forgets the session. Unknown sessions are not an error.
func (s *Service) Reset(ctx context.Context, sessionID string) {
	if !s.sessions.Delete(sessionID) {
		return
	}
	if s.recorder != nil {
		if err := s.recorder.CloseConversation(ctx, sessionID); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to close conversation")
		}
	}
}

func (s *Service) GetMetrics(sessionID string) (map[string]int, error) {
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	return st.Metrics.Snapshot(), nil
}

// AggregateMetrics sums the counters of all live sessions.
func (s *Service) AggregateMetrics() map[string]int {
	total := make(map[string]int)
	for _, name := range baseMetrics {
		total[name] = 0
	}
	s.sessions.Range(func(_ string, st *State) bool {
		for name, n := range st.Metrics.Snapshot() {
			total[name] += n
		}
		return true
	})
	return total
}

func (s *Service) ActiveSessions() int { return s.sessions.Len() }
