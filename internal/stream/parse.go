package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudpipeline/internal/transaction"
)

// parseTransaction decodes an inbound bus payload into a transaction.
// Amount is carried on the wire as a string to preserve exact decimal
// precision; a missing or unparsable amount does not fail parsing, it
// leaves AmountValid false so the invalid_amount rule fires downstream
// rather than the message being dead-lettered outright.
func parseTransaction(payload []byte) (transaction.Transaction, error) {
	var in inboundPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return transaction.Transaction{}, fmt.Errorf("stream: invalid json: %w", err)
	}
	if in.TransactionID == "" {
		return transaction.Transaction{}, fmt.Errorf("stream: missing transactionId")
	}
	if in.UserID == "" {
		return transaction.Transaction{}, fmt.Errorf("stream: missing userId")
	}

	tx := transaction.Transaction{
		TransactionID: in.TransactionID,
		UserID:        in.UserID,
		Currency:      in.Currency,
		MerchantID:    in.MerchantID,
		Device:        in.Device,
		Location:      in.Location,
	}

	if in.Amount != nil {
		if amt, err := decimal.NewFromString(*in.Amount); err == nil {
			tx.Amount = amt
			tx.AmountValid = true
		}
	}

	if in.OccurredAt != nil {
		if ts, err := time.Parse(time.RFC3339, *in.OccurredAt); err == nil {
			tx.OccurredAt = ts.UTC()
		}
	}

	return tx, nil
}
