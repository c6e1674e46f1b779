package service

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/pkg/apperror"
)

// IdentityServiceImpl implements ports.IdentityService.
type IdentityServiceImpl struct {
	book        *Book
	adminHandle string
}

// NewIdentityService creates the identity registry.
func NewIdentityService(book *Book, adminHandle string) *IdentityServiceImpl {
	return &IdentityServiceImpl{book: book, adminHandle: adminHandle}
}

type registeredPayload struct {
	Handle string `json:"handle"`
}

// Register binds a handle to the caller exactly once.
func (s *IdentityServiceImpl) Register(ctx context.Context, caller, handle string) (*domain.Identity, error) {
	identity, err := s.register(ctx, caller, handle)
	return identity, s.book.observe("register", err)
}

func (s *IdentityServiceImpl) register(ctx context.Context, caller, handle string) (*domain.Identity, error) {
	id, err := normalize(caller)
	if err != nil {
		return nil, err
	}
	h, ok := domain.NormalizeHandle(handle)
	if !ok {
		return nil, apperror.ErrInvalidHandle(handle)
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.book.now()
	identity := &domain.Identity{ID: id, Handle: h, CreatedAt: now}
	created, err := s.book.identities.Create(ctx, dbTx, identity)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create identity: %w", err))
	}
	if !created {
		return nil, apperror.ErrAlreadyRegistered(id)
	}

	event := &domain.LedgerEvent{Type: domain.EventIdentityRegistered, Actor: id, CreatedAt: now}
	if err := s.book.appendEvent(ctx, dbTx, event, registeredPayload{Handle: h}); err != nil {
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	identity.IsAdmin = id == s.book.adminID
	s.book.log.Info().
		Str("identity", id).
		Str("handle", h).
		Int64("seq", event.Seq).
		Msg("identity registered")
	return identity, nil
}

// Resolve returns the caller's identity or NotRegistered.
func (s *IdentityServiceImpl) Resolve(ctx context.Context, caller string) (*domain.Identity, error) {
	id, err := normalize(caller)
	if err != nil {
		return nil, err
	}
	identity, err := s.book.identities.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get identity: %w", err))
	}
	if identity == nil {
		return nil, apperror.ErrNotRegistered(id)
	}
	identity.IsAdmin = id == s.book.adminID
	return identity, nil
}

// IsAdmin reports whether caller is the configured administrator.
func (s *IdentityServiceImpl) IsAdmin(caller string) bool {
	return s.book.isAdmin(caller)
}

// EnsureAdmin registers the administrator at start-up when missing.
func (s *IdentityServiceImpl) EnsureAdmin(ctx context.Context) error {
	_, err := s.register(ctx, s.book.adminID, s.adminHandle)
	if err == nil || errors.Is(err, apperror.ErrAlreadyRegistered("")) {
		return nil
	}
	return fmt.Errorf("ensure admin identity: %w", err)
}
