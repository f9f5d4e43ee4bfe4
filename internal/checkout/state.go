// Package checkout implements the per-session checkout state machine:
// idle, a pending confirmation dialog, and a notification that dismisses
// itself after a delay.
package checkout

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/pricing"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Phase is the checkout surface's current mode.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseConfirmPending Phase = "confirm_pending"
	PhaseNotifyVisible  Phase = "notify_visible"
)

// DefaultDismissAfter is how long a notification stays visible.
const DefaultDismissAfter = 3 * time.Second

// Notification texts shown to the visitor.
const (
	MessageEmptyCart = "Your cart is empty. Add items before checking out."
	MessageCanceled  = "Checkout canceled."
)

// PurchaseMessage is the confirmation shown after Proceed.
func PurchaseMessage(total decimal.Decimal) string {
	return fmt.Sprintf("Thank you for your purchase! Your card will be charged %s.", pricing.Format(total))
}

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current phase.
	ErrInvalidTransition = &apperrors.AppError{
		Code:    "INVALID_TRANSITION",
		Message: "operation not allowed in the current checkout phase",
		Status:  http.StatusConflict,
		Err:     apperrors.ErrConflict,
	}

	// ErrClosed is returned by every operation after Close.
	ErrClosed = &apperrors.AppError{
		Code:    "CHECKOUT_CLOSED",
		Message: "checkout surface has been closed",
		Status:  http.StatusConflict,
		Err:     apperrors.ErrConflict,
	}
)

// State is a snapshot of the flow. PendingTotal is set only while a
// confirmation is pending; Notification and ExpiresAt only while a
// notification is visible. Seq increases on every transition.
type State struct {
	Phase        Phase           `json:"phase"`
	PendingTotal decimal.Decimal `json:"pending_total"`
	Notification string          `json:"notification,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Seq          int             `json:"seq"`
}
