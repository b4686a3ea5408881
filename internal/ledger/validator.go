package ledger

import (
	"strings"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// amountScale is the number of fractional digits a currency amount may carry.
	amountScale = 2
	// maxIntegerDigits matches the NUMERIC(20,2) balance column.
	maxIntegerDigits = 18
	// maxAmountDigits bounds the coefficient before any arithmetic rescales it.
	maxAmountDigits = 32
)

var maxAmount = decimal.New(1, maxIntegerDigits)

// TransferInput is a transfer as it arrives from the boundary, before any parsing.
type TransferInput struct {
	Receiver string
	Amount   string
}

// TransferRequest is a well-formed transfer. ReceiverID is uuid.Nil when the
// receiver string is not an account id; such a receiver never resolves.
type TransferRequest struct {
	ReceiverID uuid.UUID
	Amount     decimal.Decimal
}

// Policy holds the configurable business limits.
type Policy struct {
	StartingBalance decimal.Decimal
	// MaxTransferAmount caps a single transfer. Zero disables the cap.
	MaxTransferAmount decimal.Decimal
}

// ParseTransfer checks the shape of a transfer. It fails only with
// KindValidation and never rounds: an amount with more than two fractional
// digits is rejected.
func ParseTransfer(in TransferInput) (TransferRequest, error) {
	receiver := strings.TrimSpace(in.Receiver)
	if receiver == "" {
		return TransferRequest{}, apperr.Validation("receiver is required")
	}

	raw := strings.TrimSpace(in.Amount)
	if raw == "" {
		return TransferRequest{}, apperr.Validation("amount is required")
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return TransferRequest{}, apperr.Validation("amount must be a number")
	}
	// bounded on exponent and digit count before anything rescales the coefficient
	if amount.NumDigits() > maxAmountDigits || amount.Exponent() > maxIntegerDigits || amount.Exponent() < -maxAmountDigits {
		return TransferRequest{}, apperr.Validation("amount is out of range")
	}
	if amount.Abs().GreaterThanOrEqual(maxAmount) {
		return TransferRequest{}, apperr.Validation("amount is out of range")
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return TransferRequest{}, apperr.Validation("amount must have at most %d decimal places", amountScale)
	}

	id, err := uuid.Parse(receiver)
	if err != nil {
		id = uuid.Nil
	}

	return TransferRequest{ReceiverID: id, Amount: amount}, nil
}

// ValidateTransfer applies the business rules to a parsed transfer. receiver
// is nil when the receiver id did not resolve. It performs no I/O.
func ValidateTransfer(caller models.Account, receiver *models.Account, req TransferRequest, policy Policy) error {
	if !req.Amount.IsPositive() {
		return apperr.New(apperr.KindInvalidAmount, "amount must be greater than zero")
	}
	if policy.MaxTransferAmount.IsPositive() && req.Amount.GreaterThan(policy.MaxTransferAmount) {
		return apperr.New(apperr.KindInvalidAmount, "amount exceeds the limit of "+policy.MaxTransferAmount.StringFixed(amountScale))
	}

	if receiver == nil {
		return apperr.New(apperr.KindInvalidReceiver, "receiver not found")
	}
	if receiver.ID == caller.ID {
		return apperr.New(apperr.KindInvalidReceiver, "cannot transfer to yourself")
	}

	if req.Amount.GreaterThan(caller.Balance) {
		return apperr.New(apperr.KindInvalidAmount, "insufficient balance")
	}

	return nil
}
