package ledger

import (
	"testing"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransfer(t *testing.T) {
	id := uuid.New()

	req, err := ParseTransfer(TransferInput{Receiver: " " + id.String() + " ", Amount: "12.5"})
	require.NoError(t, err)
	assert.Equal(t, id, req.ReceiverID)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("12.50")))

	req, err = ParseTransfer(TransferInput{Receiver: id.String(), Amount: "999999999999999999.99"})
	require.NoError(t, err)
	assert.Equal(t, "999999999999999999.99", req.Amount.String())

	req, err = ParseTransfer(TransferInput{Receiver: id.String(), Amount: "1.500"})
	require.NoError(t, err)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("1.5")))

	req, err = ParseTransfer(TransferInput{Receiver: "not-a-uuid", Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, req.ReceiverID)

	for _, in := range []TransferInput{
		{Receiver: "", Amount: "1"},
		{Receiver: id.String(), Amount: "abc"},
		{Receiver: id.String(), Amount: "0.001"},
		{Receiver: id.String(), Amount: "   "},
		{Receiver: id.String(), Amount: "1e400000000"},
		{Receiver: id.String(), Amount: "-1e400000000"},
		{Receiver: id.String(), Amount: "1e-400000000"},
		{Receiver: id.String(), Amount: "1000000000000000000"},
	} {
		_, err := ParseTransfer(in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "input %+v: %v", in, err)
	}
}

func TestValidateTransfer(t *testing.T) {
	caller := models.Account{ID: uuid.New(), Balance: decimal.NewFromInt(100)}
	receiver := models.Account{ID: uuid.New()}
	policy := Policy{MaxTransferAmount: decimal.NewFromInt(50)}

	req := func(amount string) TransferRequest {
		return TransferRequest{ReceiverID: receiver.ID, Amount: decimal.RequireFromString(amount)}
	}

	assert.NoError(t, ValidateTransfer(caller, &receiver, req("50"), policy))
	assert.NoError(t, ValidateTransfer(caller, &receiver, req("100"), Policy{}))

	assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(ValidateTransfer(caller, &receiver, req("0"), policy)))
	assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(ValidateTransfer(caller, &receiver, req("-1"), policy)))
	assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(ValidateTransfer(caller, &receiver, req("50.01"), policy)))
	assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(ValidateTransfer(caller, &receiver, req("100.01"), Policy{})))
	assert.Equal(t, apperr.KindInvalidReceiver, apperr.KindOf(ValidateTransfer(caller, nil, req("1"), policy)))
	assert.Equal(t, apperr.KindInvalidReceiver, apperr.KindOf(ValidateTransfer(caller, &caller, req("1"), policy)))
}
