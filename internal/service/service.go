package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pharmapos/internal/cart"
	"pharmapos/internal/domain"
	"pharmapos/internal/store"
	"pharmapos/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Session is the explicit per-operator state: who is logged in and the cart
// they are building. A Session with a nil User can hold a cart but cannot
// check out or process returns.
type Session struct {
	ID   string
	User *domain.User
	Cart *cart.Cart

	mu sync.Mutex
}

func NewSession(user *domain.User) *Session {
	return &Session{
		ID:   xid.New("sess"),
		User: user,
		Cart: cart.New(),
	}
}

// Actor describes the session user for audit attribution.
func (s *Session) Actor() domain.Actor {
	if s == nil || s.User == nil {
		return domain.Actor{}
	}
	return domain.Actor{UserID: s.User.ID, Username: s.User.Username, Role: s.User.Role}
}

type Service struct {
	repo      store.Repository
	logger    *zap.Logger
	backupDir string
	now       func() time.Time
}

func New(repo store.Repository, logger *zap.Logger, backupDir string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backupDir == "" {
		backupDir = "backups"
	}
	return &Service{
		repo:      repo,
		logger:    logger.With(zap.String("component", "service")),
		backupDir: backupDir,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Dates on receipts and report day
// boundaries follow the location of the returned times.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func requireUser(sess *Session) (*domain.User, error) {
	if sess == nil || sess.User == nil {
		return nil, store.ErrUnauthenticated
	}
	return sess.User, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", fmt.Sprintf("%s/%s", entityType, entityID)),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if date == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		day, err := parseDay(date, s.now().Location())
		if err != nil {
			return nil, err
		}
		from = day
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func parseDay(raw string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}
	return day, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// calendarDate maps t's local calendar day onto midnight UTC, the form
// medicine expiry dates are stored in.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
