package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"qooqz/internal/models"
	"qooqz/internal/repositories"
	"qooqz/internal/utils"
)

const defaultSessionTTL = 24 * time.Hour

// SessionService owns the session lifecycle: created at login, extended
// on session-bound verification, revoked at logout.
type SessionService interface {
	Login(ctx context.Context, phone, password, ip, userAgent string) (string, *models.Session, error)
	Logout(ctx context.Context, sessionToken string) error
	ValidateSessionToken(ctx context.Context, sessionToken string) (*models.Session, error)
}

type sessionService struct {
	users    repositories.UserRepository
	sessions repositories.SessionRepository
	ttl      time.Duration
}

func NewSessionService(users repositories.UserRepository, sessions repositories.SessionRepository, ttl time.Duration) SessionService {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &sessionService{users: users, sessions: sessions, ttl: ttl}
}

func (s *sessionService) Login(ctx context.Context, phone, password, ip, userAgent string) (string, *models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	phone = strings.TrimSpace(phone)
	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		return "", nil, fmt.Errorf("login lookup: %w", err)
	}
	if user == nil || strings.TrimSpace(user.PasswordHash) == "" {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(strings.TrimSpace(password))); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := utils.NewSessionToken(32)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	sess := &models.Session{
		UserID:    user.ID,
		TokenHash: utils.HashSessionToken(token),
		UserAgent: userAgent,
		IP:        ip,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if _, err := s.sessions.Create(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}
	log.Printf("[auth][login] success user_id=%d session_id=%d", user.ID, sess.ID)
	return token, sess, nil
}

func (s *sessionService) Logout(ctx context.Context, sessionToken string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	sess, err := s.ValidateSessionToken(ctx, sessionToken)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	log.Printf("[auth][logout] session_id=%d user_id=%d", sess.ID, sess.UserID)
	return nil
}

func (s *sessionService) ValidateSessionToken(ctx context.Context, sessionToken string) (*models.Session, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return nil, ErrSessionInvalid
	}
	sess, err := s.sessions.FindActive(ctx, utils.HashSessionToken(sessionToken))
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionInvalid
	}
	return sess, nil
}
