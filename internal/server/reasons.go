package server

import (
	"errors"
	"net/http"

	"WagerLedger/internal/coordinator"
	"WagerLedger/internal/reservation"
)

// Reason strings are the wire-level error taxonomy. Domain rejections are
// typed outcomes for the client UI, not faults.
const (
	reasonInvalidArgument        = "invalid-argument"
	reasonWagerDisabled          = "wager-disabled"
	reasonInsufficientCollateral = "insufficient-collateral"
	reasonProposalMissing        = "proposal-missing"
	reasonProposalUnavailable    = "proposal-unavailable"
	reasonPermissionDenied       = "permission-denied"
	reasonInternal               = "internal"
)

func reasonFor(err error) string {
	switch {
	case errors.Is(err, coordinator.ErrInvalidArgument):
		return reasonInvalidArgument
	case errors.Is(err, coordinator.ErrWagerDisabled):
		return reasonWagerDisabled
	case errors.Is(err, reservation.ErrInsufficientCollateral):
		return reasonInsufficientCollateral
	case errors.Is(err, coordinator.ErrProposalMissing):
		return reasonProposalMissing
	case errors.Is(err, coordinator.ErrProposalUnavailable):
		return reasonProposalUnavailable
	case errors.Is(err, coordinator.ErrPermissionDenied):
		return reasonPermissionDenied
	default:
		return reasonInternal
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrWagerDisabled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, reservation.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coordinator.ErrProposalMissing):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrProposalUnavailable):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
