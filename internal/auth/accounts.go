package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/blob"
	storemail "storefront/internal/mail"
	"storefront/internal/model"
)

const (
	// MagicLinkTTL is how long a sign-in link stays valid.
	MagicLinkTTL = 15 * time.Minute

	// ResetTTL is how long a password-reset link stays valid.
	ResetTTL = time.Hour

	// MinPasswordLength applies to signup and reset.
	MinPasswordLength = 8

	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLength = 72

	// tokenRetention keeps redeemed and expired token records around for
	// support lookups before the store drops them.
	tokenRetention = 24 * time.Hour
)

// ErrResetPending means a password reset was requested while an earlier
// link for the same account is still valid; no new link was sent.
var ErrResetPending = errors.New("password reset already pending")

// Options configures the account service.
type Options struct {
	// BaseURL prefixes links sent by email, e.g. https://shop.example.com.
	BaseURL string

	// AdminEmails get the admin role when they sign up.
	AdminEmails []string
}

// Service manages accounts and single-use tokens.
type Service struct {
	blobs  blob.Store
	issuer *Issuer
	mailer storemail.Mailer
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// Result is a signed-in account with its session token.
type Result struct {
	Account   *model.Account
	Token     string
	ExpiresAt time.Time
	EmailSent bool
}

// NewService creates an account service.
func NewService(blobs blob.Store, issuer *Issuer, mailer storemail.Mailer, logger *slog.Logger, opts Options) *Service {
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	admins := make([]string, 0, len(opts.AdminEmails))
	for _, e := range opts.AdminEmails {
		admins = append(admins, normalizeEmail(e))
	}
	opts.AdminEmails = admins
	return &Service{
		blobs:  blobs,
		issuer: issuer,
		mailer: mailer,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

func accountKey(id string) string      { return "account/" + id }
func emailKey(email string) string     { return "account-email/" + email }
func tokenKey(id string) string        { return "token/" + id }
func resetPendingKey(id string) string { return "reset-pending/" + id }

type emailIndex struct {
	AccountID string `json:"account_id"`
}

type pendingReset struct {
	TokenID string `json:"token_id"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail normalizes email and rejects malformed addresses, including
// ones with a display name.
func ValidateEmail(email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", model.NewValidationError("email", "required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", model.NewValidationError("email", "not a valid email address")
	}
	return email, nil
}

func validatePassword(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return model.NewValidationError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	case len(password) > maxPasswordLength:
		return model.NewValidationError("password", fmt.Sprintf("must be at most %d bytes", maxPasswordLength))
	}
	return nil
}

// Signup creates a customer account, signs it in and sends a verification
// link. A registered email is a ConflictError.
func (s *Service) Signup(ctx context.Context, email, password, name string) (*Result, error) {
	email, err := ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("hashing password: %w", err))
	}

	now := s.now()
	acct := &model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         model.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if slices.Contains(s.opts.AdminEmails, email) {
		acct.Role = model.RoleAdmin
	}

	// The email index entry is the uniqueness claim.
	_, err = blob.PutJSON(ctx, s.blobs, emailKey(email), emailIndex{AccountID: acct.ID}, 0, 0)
	if errors.Is(err, blob.ErrVersionMismatch) {
		return nil, model.NewConflictError("account", "an account with this email already exists")
	}
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("reserving email: %w", err))
	}
	if _, err := blob.PutJSON(ctx, s.blobs, accountKey(acct.ID), acct, 0, 0); err != nil {
		_ = s.blobs.Delete(ctx, emailKey(email))
		return nil, model.NewInternalError(fmt.Errorf("saving account: %w", err))
	}

	s.logger.InfoContext(ctx, "account created",
		slog.String("account_id", acct.ID),
		slog.String("role", string(acct.Role)),
	)

	res, err := s.signIn(acct)
	if err != nil {
		return nil, err
	}
	res.EmailSent = s.sendLink(ctx, acct, model.TokenMagicLink, MagicLinkTTL)
	return res, nil
}

// Login checks the password and signs the account in. Unknown emails and
// wrong passwords produce the same UnauthorizedError.
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	invalid := model.NewUnauthorizedError("invalid email or password")

	acct, _, err := s.accountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if acct.PasswordHash == "" {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}
	return s.signIn(acct)
}

// Account returns the account by id.
func (s *Service) Account(ctx context.Context, id string) (*model.Account, error) {
	acct, _, err := s.loadAccount(ctx, id)
	return acct, err
}

// RequestMagicLink emails a sign-in link to a registered address.
// Unknown addresses are ignored so responses do not reveal who has an
// account.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	email, err := ValidateEmail(email)
	if err != nil {
		return err
	}
	acct, _, err := s.accountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.logger.InfoContext(ctx, "magic link requested for unknown email")
			return nil
		}
		return err
	}
	s.sendLink(ctx, acct, model.TokenMagicLink, MagicLinkTTL)
	return nil
}

// VerifyMagicLink redeems a sign-in token, marks the email verified and
// signs the account in.
func (s *Service) VerifyMagicLink(ctx context.Context, tokenID string) (*Result, error) {
	tok, err := s.redeem(ctx, tokenID, model.TokenMagicLink)
	if err != nil {
		return nil, err
	}

	acct, err := s.updateAccount(ctx, tok.AccountID, func(a *model.Account) {
		a.EmailVerified = true
	})
	if err != nil {
		return nil, err
	}
	return s.signIn(acct)
}

// RequestPasswordReset emails a reset link to a registered address. While
// an earlier link is still valid no new one is sent and ErrResetPending is
// returned. Unknown addresses return nil.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := ValidateEmail(email)
	if err != nil {
		return err
	}
	acct, _, err := s.accountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return err
	}

	tok := s.newToken(acct, model.TokenPasswordReset, ResetTTL)
	_, err = blob.PutJSON(ctx, s.blobs, resetPendingKey(acct.ID), pendingReset{TokenID: tok.ID}, 0, ResetTTL)
	if errors.Is(err, blob.ErrVersionMismatch) {
		s.logger.InfoContext(ctx, "password reset suppressed, link still pending",
			slog.String("account_id", acct.ID),
		)
		return ErrResetPending
	}
	if err != nil {
		return model.NewInternalError(fmt.Errorf("recording pending reset: %w", err))
	}

	if err := s.saveToken(ctx, tok); err != nil {
		_ = s.blobs.Delete(ctx, resetPendingKey(acct.ID))
		return err
	}
	s.mailLink(ctx, acct, tok)
	return nil
}

// ConfirmPasswordReset redeems a reset token and sets a new password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, tokenID, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	tok, err := s.redeem(ctx, tokenID, model.TokenPasswordReset)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return model.NewInternalError(fmt.Errorf("hashing password: %w", err))
	}
	if _, err := s.updateAccount(ctx, tok.AccountID, func(a *model.Account) {
		a.PasswordHash = string(hash)
		a.EmailVerified = true
	}); err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, resetPendingKey(tok.AccountID)); err != nil {
		s.logger.WarnContext(ctx, "failed to clear pending reset",
			slog.String("account_id", tok.AccountID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "password reset completed", slog.String("account_id", tok.AccountID))
	return nil
}

func (s *Service) signIn(acct *model.Account) (*Result, error) {
	token, exp, err := s.issuer.Issue(acct.Session())
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	return &Result{Account: acct, Token: token, ExpiresAt: exp}, nil
}

func (s *Service) accountByEmail(ctx context.Context, email string) (*model.Account, int64, error) {
	idx, _, err := blob.GetJSON[emailIndex](ctx, s.blobs, emailKey(email))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, 0, model.NewNotFoundError("account")
	}
	if err != nil {
		return nil, 0, model.NewInternalError(fmt.Errorf("loading email index: %w", err))
	}
	return s.loadAccount(ctx, idx.AccountID)
}

func (s *Service) loadAccount(ctx context.Context, id string) (*model.Account, int64, error) {
	acct, version, err := blob.GetJSON[model.Account](ctx, s.blobs, accountKey(id))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, 0, model.NewNotFoundError("account")
	}
	if err != nil {
		return nil, 0, model.NewInternalError(fmt.Errorf("loading account: %w", err))
	}
	return acct, version, nil
}

// updateAccount applies fn and writes back with a version check, reloading
// once on conflict.
func (s *Service) updateAccount(ctx context.Context, id string, fn func(*model.Account)) (*model.Account, error) {
	for attempt := 0; attempt < 2; attempt++ {
		acct, version, err := s.loadAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		fn(acct)
		acct.UpdatedAt = s.now()
		_, err = blob.PutJSON(ctx, s.blobs, accountKey(id), acct, version, 0)
		if errors.Is(err, blob.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return nil, model.NewInternalError(fmt.Errorf("saving account: %w", err))
		}
		return acct, nil
	}
	return nil, model.NewConflictError("account", "modified concurrently, please retry")
}

func (s *Service) newToken(acct *model.Account, kind model.TokenKind, ttl time.Duration) *model.OneTimeToken {
	now := s.now()
	return &model.OneTimeToken{
		ID:        uuid.NewString(),
		Kind:      kind,
		AccountID: acct.ID,
		Email:     acct.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s *Service) saveToken(ctx context.Context, tok *model.OneTimeToken) error {
	ttl := tok.ExpiresAt.Sub(s.now()) + tokenRetention
	if _, err := blob.PutJSON(ctx, s.blobs, tokenKey(tok.ID), tok, 0, ttl); err != nil {
		return model.NewInternalError(fmt.Errorf("saving token: %w", err))
	}
	return nil
}

// sendLink creates a token and emails it, reporting whether the email went
// out. Token storage failures are logged and count as not sent.
func (s *Service) sendLink(ctx context.Context, acct *model.Account, kind model.TokenKind, ttl time.Duration) bool {
	tok := s.newToken(acct, kind, ttl)
	if err := s.saveToken(ctx, tok); err != nil {
		s.logger.ErrorContext(ctx, "failed to store link token",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return s.mailLink(ctx, acct, tok)
}

func (s *Service) mailLink(ctx context.Context, acct *model.Account, tok *model.OneTimeToken) bool {
	var msg storemail.Message
	switch tok.Kind {
	case model.TokenMagicLink:
		msg = storemail.Message{
			Subject: "Your sign-in link",
			Text: fmt.Sprintf("Sign in within %d minutes:\n\n%s/auth/verify/%s\n",
				int(MagicLinkTTL.Minutes()), s.opts.BaseURL, tok.ID),
		}
	case model.TokenPasswordReset:
		msg = storemail.Message{
			Subject: "Reset your password",
			Text: fmt.Sprintf("Choose a new password within an hour:\n\n%s/reset-password?token=%s\n\nIf you did not ask for this, ignore this email.\n",
				s.opts.BaseURL, tok.ID),
		}
	}
	msg.To = acct.Email
	msg.Tag = string(tok.Kind)
	return storemail.SendBestEffort(ctx, s.mailer, s.logger, msg)
}

// redeem marks a token used. Unknown, expired, used and wrong-kind tokens
// all produce the same InvalidTokenError. Two concurrent redemptions of one
// token cannot both succeed.
func (s *Service) redeem(ctx context.Context, tokenID string, kind model.TokenKind) (*model.OneTimeToken, error) {
	if tokenID == "" {
		return nil, model.NewInvalidTokenError()
	}
	tok, version, err := blob.GetJSON[model.OneTimeToken](ctx, s.blobs, tokenKey(tokenID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, model.NewInvalidTokenError()
	}
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("loading token: %w", err))
	}

	now := s.now()
	if tok.Kind != kind || !tok.Redeemable(now) {
		return nil, model.NewInvalidTokenError()
	}

	tok.UsedAt = &now
	_, err = blob.PutJSON(ctx, s.blobs, tokenKey(tokenID), tok, version, tokenRetention)
	if errors.Is(err, blob.ErrVersionMismatch) {
		return nil, model.NewInvalidTokenError()
	}
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("saving token: %w", err))
	}
	return tok, nil
}
