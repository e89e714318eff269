package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"qooqz/internal/models"
	"qooqz/internal/repositories"
	"qooqz/internal/utils"
)

// Настройки безопасности (можно вынести в конфиг при желании)
const (
	defaultTokenTTL    = 900 * time.Second
	minTokenTTL        = 60 * time.Second
	maxIssuesPerWindow = 3
	issueWindow        = 10 * time.Minute
	dbTimeout          = 5 * time.Second
)

// MaxConfirmAttempts — the 5th wrong submission blocks the token.
const MaxConfirmAttempts = 5

type IssueInput struct {
	UserID       int
	Phone        string
	Username     string
	Channel      string
	TTLSeconds   int
	Origin       string
	UserTZ       string
	SessionToken string
	IP           string
	UserAgent    string
}

// IssueResult never carries the raw code: the code travels only through
// the out-of-band delivery channel.
type IssueResult struct {
	TokenID   int64     `json:"token_id"`
	JTI       string    `json:"jti"`
	UserID    int       `json:"user_id"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
	Link      string    `json:"link,omitempty"`
}

// TokenIssuer creates and supersedes verification tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, in IssueInput) (*IssueResult, error)
}

type tokenIssuer struct {
	tokens   repositories.VerificationTokenRepository
	users    repositories.UserRepository
	binder   *SessionBinder
	hasher   CodeHasher
	delivery Delivery
	notifier CodeNotifier // optional
	secret   []byte
	linkBase string
}

func NewTokenIssuer(
	tokens repositories.VerificationTokenRepository,
	users repositories.UserRepository,
	binder *SessionBinder,
	hasher CodeHasher,
	delivery Delivery,
	notifier CodeNotifier,
	secret []byte,
	linkBase string,
) TokenIssuer {
	return &tokenIssuer{
		tokens:   tokens,
		users:    users,
		binder:   binder,
		hasher:   hasher,
		delivery: delivery,
		notifier: notifier,
		secret:   secret,
		linkBase: strings.TrimRight(linkBase, "/"),
	}
}

func (s *tokenIssuer) Issue(ctx context.Context, in IssueInput) (*IssueResult, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	channel := in.Channel
	if channel == "" {
		channel = models.ChannelCode
	}
	switch channel {
	case models.ChannelCode, models.ChannelLink, models.ChannelWhatsApp:
	default:
		return nil, ErrInvalidChannel
	}

	user, err := s.resolveSubject(ctx, in)
	if err != nil {
		return nil, err
	}

	// Троттлинг отправок: не чаще 3/10мин
	since := time.Now().UTC().Add(-issueWindow)
	cnt, err := s.tokens.CountRecentIssues(ctx, user.ID, channel, since)
	if err != nil {
		return nil, fmt.Errorf("issue throttle check: %w", err)
	}
	if cnt >= maxIssuesPerWindow {
		return nil, ErrResendThrottled
	}

	// Новая отправка гасит все предыдущие неиспользованные коды.
	if _, err := s.tokens.SupersedeUnused(ctx, user.ID, channel); err != nil {
		return nil, fmt.Errorf("supersede unused: %w", err)
	}

	code, err := utils.NewVerificationCode()
	if err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(code)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(in.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}
	issuedAt := time.Now().UTC()

	phone := in.Phone
	if phone == "" {
		phone = user.Phone
	}

	row := &models.VerificationToken{
		JTI:             utils.NewJTI(),
		UserID:          user.ID,
		Channel:         channel,
		TokenHash:       digest,
		IssuedAt:        issuedAt,
		ExpiresAt:       issuedAt.Add(ttl),
		UserTZ:          in.UserTZ,
		Origin:          in.Origin,
		Phone:           phone,
		IssuerIP:        in.IP,
		IssuerUserAgent: in.UserAgent,
	}

	if in.SessionToken != "" {
		if err := s.binder.Bind(ctx, row, in.SessionToken); err != nil {
			return nil, err
		}
	}

	if _, err := s.tokens.Insert(ctx, row); err != nil {
		return nil, fmt.Errorf("insert verification token: %w", err)
	}

	res := &IssueResult{
		TokenID:   row.ID,
		JTI:       row.JTI,
		UserID:    user.ID,
		Channel:   channel,
		ExpiresAt: row.ExpiresAt,
	}

	text := fmt.Sprintf("qooqz verification code: %s", code)
	if channel == models.ChannelLink {
		signed, err := utils.EncodeLinkToken(user.ID, row.JTI, code, in.SessionToken, issuedAt, row.ExpiresAt, s.secret)
		if err != nil {
			return nil, fmt.Errorf("encode link token: %w", err)
		}
		res.Link = s.linkBase + "/verify/link/" + signed
		text = fmt.Sprintf("qooqz verification link: %s", res.Link)
	}

	// Доставка — fire-and-forget: токен уже сохранён, сбой канала не
	// откатывает выпуск, клиент всегда может запросить resend.
	go s.deliver(user, phone, text, row.JTI)

	log.Printf("[issue] ok user_id=%d jti=%s channel=%s origin=%s exp=%s",
		user.ID, row.JTI, channel, in.Origin, row.ExpiresAt.Format(time.RFC3339))
	return res, nil
}

func (s *tokenIssuer) resolveSubject(ctx context.Context, in IssueInput) (*models.User, error) {
	if in.UserID != 0 {
		user, err := s.users.FindByID(ctx, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve subject by id: %w", err)
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		return user, nil
	}

	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return nil, ErrUserNotFound
	}
	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("resolve subject by phone: %w", err)
	}
	if user != nil {
		return user, nil
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = phone
	}
	user, err = s.users.CreateMinimal(ctx, username, phone)
	if err != nil {
		return nil, fmt.Errorf("create minimal subject: %w", err)
	}
	log.Printf("[issue] created minimal user id=%d", user.ID)
	return user, nil
}

func (s *tokenIssuer) deliver(user *models.User, phone, text, jti string) {
	if s.delivery != nil && phone != "" {
		if err := s.delivery.SendText(phone, text); err != nil {
			log.Printf("[issue][deliver] whatsapp failed user_id=%d jti=%s err=%v", user.ID, jti, err)
		}
	}
	if s.notifier != nil && user.TelegramChatID != 0 {
		if err := s.notifier.NotifyCode(user.TelegramChatID, text); err != nil {
			log.Printf("[issue][deliver] telegram failed user_id=%d jti=%s err=%v", user.ID, jti, err)
		}
	}
}
