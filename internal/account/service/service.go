// Package service manages account profiles and their anonymization.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/blake2b"

	"carekeeper/internal/account/models"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/sentinel"
	"carekeeper/pkg/requestcontext"
)

const (
	maxNameLength  = 200
	maxPhoneLength = 32
	tokenBytes     = 8
)

type Store interface {
	Get(ctx context.Context, userID domain.UserID) (*models.Profile, error)
	Save(ctx context.Context, p models.Profile) error
}

type Service struct {
	store  Store
	salt   func() ([]byte, error)
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	s := &Service{store: store, salt: randomSalt, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Get(ctx context.Context, userID domain.UserID) (*models.Profile, error) {
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	return p, nil
}

// UpdateInput carries the editable profile fields.
type UpdateInput struct {
	FullName   string
	Email      string
	Phone      string
	NationalID string
}

// Save creates or replaces the profile. Anonymized profiles are frozen.
func (s *Service) Save(ctx context.Context, userID domain.UserID, in UpdateInput) (*models.Profile, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	existing, err := s.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	if existing != nil && existing.IsAnonymized() {
		return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	p := models.Profile{
		UserID:     userID,
		FullName:   strings.TrimSpace(in.FullName),
		Email:      strings.TrimSpace(in.Email),
		Phone:      strings.TrimSpace(in.Phone),
		NationalID: strings.TrimSpace(in.NationalID),
		UpdatedAt:  requestcontext.Now(ctx).UTC(),
	}
	if err := s.store.Save(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save profile")
	}
	return &p, nil
}

// Anonymize replaces every PII field with an unlinkable token. Each call
// uses a fresh random salt, so the same input never yields the same token
// twice. A missing profile has nothing to anonymize.
func (s *Service) Anonymize(ctx context.Context, userID domain.UserID) error {
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if p.IsAnonymized() {
		return nil
	}
	salt, err := s.salt()
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	tok := func(field, v string) (string, error) {
		if v == "" {
			return "", nil
		}
		return token(salt, field, v)
	}

	now := requestcontext.Now(ctx).UTC()
	name, err := tok("name", p.FullName)
	if err != nil {
		return err
	}
	email, err := tok("email", p.Email)
	if err != nil {
		return err
	}
	phone, err := tok("phone", p.Phone)
	if err != nil {
		return err
	}
	nationalID, err := tok("national_id", p.NationalID)
	if err != nil {
		return err
	}
	p.FullName = "anonymized-" + name
	if email != "" {
		p.Email = "anon-" + email + "@invalid"
	}
	p.Phone = phone
	p.NationalID = nationalID
	p.AnonymizedAt = &now
	p.UpdatedAt = now
	if err := s.store.Save(ctx, *p); err != nil {
		return fmt.Errorf("save anonymized profile: %w", err)
	}
	s.logger.InfoContext(ctx, "account profile anonymized", "user_id", userID)
	return nil
}

func (in UpdateInput) validate() error {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return dErrors.New(dErrors.CodeValidation, "full_name is required")
	}
	if len(name) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "full_name is too long")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.Email)); err != nil {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if len(in.Phone) > maxPhoneLength {
		return dErrors.New(dErrors.CodeValidation, "phone is too long")
	}
	return nil
}

func token(salt []byte, field, value string) (string, error) {
	h, err := blake2b.New256(salt)
	if err != nil {
		return "", fmt.Errorf("init hash: %w", err)
	}
	h.Write([]byte(field))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil)[:tokenBytes]), nil
}

func randomSalt() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
