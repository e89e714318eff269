package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"qooqz/internal/pdf"
	"qooqz/internal/repositories"
)

// ActivationService flips the subject active and cascades to all of its
// inactive stores. Activation always shares the caller's transaction
// with mark-used; the standalone Activate opens its own.
type ActivationService interface {
	Activate(ctx context.Context, userID int) error
	ActivateTx(ctx context.Context, q repositories.Querier, userID int) error
	// NotifyActivated fires the post-commit side effects (confirmation
	// email, activation certificate). Best-effort, never rolls back.
	NotifyActivated(userID int)
}

type activationService struct {
	users  repositories.UserRepository
	stores repositories.StoreRepository
	tx     repositories.TxRunner
	emails EmailService  // optional
	certs  pdf.Generator // optional
}

func NewActivationService(
	users repositories.UserRepository,
	stores repositories.StoreRepository,
	tx repositories.TxRunner,
	emails EmailService,
	certs pdf.Generator,
) ActivationService {
	return &activationService{
		users:  users,
		stores: stores,
		tx:     tx,
		emails: emails,
		certs:  certs,
	}
}

func (s *activationService) Activate(ctx context.Context, userID int) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return s.tx.RunInTx(ctx, func(q repositories.Querier) error {
		return s.ActivateTx(ctx, q, userID)
	})
}

// ActivateTx is idempotent: both updates are no-ops on already-active
// rows, so a second call leaves is_active=1 with no error.
func (s *activationService) ActivateTx(ctx context.Context, q repositories.Querier, userID int) error {
	if err := s.users.SetActive(ctx, q, userID); err != nil {
		return fmt.Errorf("activate user: %w", err)
	}
	stores, err := s.stores.ActivateAllInactiveForOwner(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("activate stores: %w", err)
	}
	log.Printf("[activate] user_id=%d stores=%d", userID, stores)
	return nil
}

func (s *activationService) NotifyActivated(userID int) {
	if s.emails == nil && s.certs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()

		user, err := s.users.FindByID(ctx, userID)
		if err != nil || user == nil {
			log.Printf("[activate][notify] load user failed user_id=%d err=%v", userID, err)
			return
		}

		if s.emails != nil && user.Email != "" {
			if err := s.emails.SendActivationEmail(user.Email, user.Username); err != nil {
				// warn but do not fail activation
				log.Printf("[activate][notify] email failed user_id=%d err=%v", userID, err)
			}
		}

		if s.certs != nil {
			stores, err := s.stores.ListByOwner(ctx, userID)
			if err != nil {
				log.Printf("[activate][notify] list stores failed user_id=%d err=%v", userID, err)
				return
			}
			names := make([]string, 0, len(stores))
			for _, st := range stores {
				names = append(names, st.Name)
			}
			path, err := s.certs.GenerateActivationCertificate(pdf.CertificateData{
				UserID:      user.ID,
				Username:    user.Username,
				Phone:       user.Phone,
				Stores:      names,
				ActivatedAt: time.Now().UTC(),
			})
			if err != nil {
				log.Printf("[activate][notify] certificate failed user_id=%d err=%v", userID, err)
				return
			}
			log.Printf("[activate][notify] certificate ready user_id=%d path=%s", userID, path)
		}
	}()
}
