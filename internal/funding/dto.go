package funding

// CardInRequest is the body of a card top-up.
type CardInRequest struct {
	CardNumber string `json:"card_number"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
	Amount     int64  `json:"amount_cfa"`
	ClientTxID string `json:"client_tx_id"`
}

func (r CardInRequest) input(address string) CardInInput {
	return CardInInput{
		Address:    address,
		Amount:     r.Amount,
		ClientTxID: r.ClientTxID,
		CardNumber: r.CardNumber,
		Expiry:     r.Expiry,
		CVV:        r.CVV,
	}
}

// CardOutRequest is the body of a cash-out to a card.
type CardOutRequest struct {
	CardNumber string `json:"card_number"`
	Amount     int64  `json:"amount_cfa"`
	ClientTxID string `json:"client_tx_id"`
}

func (r CardOutRequest) input(address string) CardOutInput {
	return CardOutInput{Address: address, Amount: r.Amount, ClientTxID: r.ClientTxID, CardNumber: r.CardNumber}
}

// FundingResponse is returned by both card endpoints. Replays carry Replayed=true.
type FundingResponse struct {
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"status"`
	AccountBalance    int64  `json:"account_balance_cfa"`
	AcquirerReference string `json:"acquirer_reference,omitempty"`
	Replayed          bool   `json:"replayed"`
}

func toResponse(result FundingResult, replayed bool) FundingResponse {
	return FundingResponse{
		TransactionID:     result.TransactionID,
		Status:            result.Status,
		AccountBalance:    result.AccountBalance,
		AcquirerReference: result.AcquirerReference,
		Replayed:          replayed,
	}
}
