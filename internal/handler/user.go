package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/tokenbill/tokenbill/internal/domain"
	"github.com/tokenbill/tokenbill/internal/logging"
)

type userGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type balanceReader interface {
	CachedBalance(ctx context.Context, userID uuid.UUID) (int64, error)
}

type UserHandler struct {
	users    userGetter
	balances balanceReader
}

func NewUserHandler(users userGetter, balances balanceReader) *UserHandler {
	return &UserHandler{users: users, balances: balances}
}

func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID, appErr := ownerFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to get user", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toUserDTO(user))
}

// GetBalance serves the display balance from a short TTL cache. It can be
// slightly stale; anything that debits re-reads the authoritative row.
func (h *UserHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, appErr := ownerFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	balance, err := h.balances.CachedBalance(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to read balance", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]any{"balance": balance})
}
