package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Trickybutshruti/Connect-Dev/internal/ledger"
	"github.com/Trickybutshruti/Connect-Dev/internal/metrics"
)

// CallIDFromRef derives the fixed-width on-chain call id from the
// human-readable booking reference.
func CallIDFromRef(ref string) common.Hash {
	return crypto.Keccak256Hash([]byte(ref))
}

// CreateRequest is the booking intent the orchestrator turns into a
// createCall transaction.
type CreateRequest struct {
	CallRef         string // human-readable call id, hashed on submission
	Developer       string // hex address
	Amount          string // decimal amount in native currency
	DurationMinutes int
}

// Submission is the immediate result of a submitted transaction. It is
// returned before the transaction is mined; confirmation is a separate step.
type Submission struct {
	TxHash   string
	CallID   common.Hash
	Amount   *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Nonce    uint64
}

// SubmitCreate books a call: it hashes the reference, converts units,
// dry-runs the creation against current state, then estimates, signs and
// sends. It returns as soon as the transaction is accepted by the node.
func (o *Orchestrator) SubmitCreate(ctx context.Context, req CreateRequest) (*Submission, error) {
	if !common.IsHexAddress(req.Developer) {
		return nil, fmt.Errorf("%w: developer %q", ErrInvalidAddress, req.Developer)
	}
	developer := common.HexToAddress(req.Developer)

	value, err := ParseEther(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if value.Sign() == 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be at least one minute", ErrInvalidDuration)
	}
	duration := big.NewInt(int64(req.DurationMinutes) * 60)

	id := CallIDFromRef(req.CallRef)

	data, err := ledger.ABI.Pack("createCall", id, developer, duration)
	if err != nil {
		return nil, &TxError{Op: "pack", Err: err}
	}

	sub, err := o.submit(ctx, "createCall", id, value, data)
	if err != nil {
		return nil, err
	}
	metrics.CallsCreatedTotal.Inc()
	return sub, nil
}

// SubmitStart signals call start for an existing record.
func (o *Orchestrator) SubmitStart(ctx context.Context, id common.Hash) (*Submission, error) {
	data, err := ledger.ABI.Pack("startCall", id)
	if err != nil {
		return nil, &TxError{Op: "pack", Err: err}
	}

	sub, err := o.submit(ctx, "startCall", id, nil, data)
	if err != nil {
		return nil, err
	}
	metrics.CallsStartedTotal.Inc()
	return sub, nil
}

// SubmitComplete releases the escrow to the developer. The ledger's guards
// are mirrored locally first so a doomed submission fails fast with a
// precise message instead of a spent-gas revert.
func (o *Orchestrator) SubmitComplete(ctx context.Context, id common.Hash) (*Submission, error) {
	details, err := o.GetCallDetails(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case details.IsCompleted:
		return nil, &PreconditionError{Reason: "call is already completed"}
	case details.IsPaid:
		return nil, &PreconditionError{Reason: "payment was already released"}
	case details.Amount.Sign() == 0:
		return nil, &PreconditionError{Reason: "call has no escrowed amount"}
	case o.address != details.Developer:
		return nil, &PreconditionError{Reason: "only the developer can complete the call"}
	}

	held, err := o.client.BalanceAt(ctx, o.contract, nil)
	if err != nil {
		return nil, &TxError{Op: "balance", Err: err}
	}
	if held.Cmp(details.Amount) < 0 {
		return nil, &PreconditionError{Reason: "contract balance cannot cover the payout"}
	}

	data, err := ledger.ABI.Pack("completeCall", id)
	if err != nil {
		return nil, &TxError{Op: "pack", Err: err}
	}

	sub, err := o.submit(ctx, "completeCall", id, nil, data)
	if err != nil {
		return nil, err
	}
	metrics.CallsCompletedTotal.Inc()
	return sub, nil
}

// submit runs the shared dry-run → estimate → sign → send discipline.
func (o *Orchestrator) submit(ctx context.Context, op string, id common.Hash, value *big.Int, data []byte) (*Submission, error) {
	if value == nil {
		value = new(big.Int)
	}

	msg := ethereum.CallMsg{
		From:  o.address,
		To:    &o.contract,
		Value: value,
		Data:  data,
	}

	// Dry-run against current state to surface the revert reason before
	// any gas is spent.
	if _, err := o.client.CallContract(ctx, msg, nil); err != nil {
		return nil, &TxError{Op: op + " dry-run", Err: DecodeRevert(err)}
	}

	gasEstimate, err := o.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, &TxError{Op: op + " estimate", Err: DecodeRevert(err)}
	}
	gasLimit := gasEstimate + gasEstimate*gasMarginPercent/100

	gasPrice, err := o.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TxError{Op: op + " gas price", Err: err}
	}

	nonce, err := o.client.PendingNonceAt(ctx, o.address)
	if err != nil {
		return nil, &TxError{Op: op + " nonce", Err: err}
	}

	tx := types.NewTransaction(nonce, o.contract, value, gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(o.chainID), o.privateKey)
	if err != nil {
		return nil, &TxError{Op: op + " sign", Err: err}
	}

	if err := o.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &TxError{Op: op + " send", TxHash: signedTx.Hash().Hex(), Err: err}
	}

	o.logger.Info("transaction submitted",
		"op", op,
		"callId", id.Hex(),
		"tx", signedTx.Hash().Hex(),
		"gasLimit", gasLimit,
		"nonce", nonce,
	)

	return &Submission{
		TxHash:   signedTx.Hash().Hex(),
		CallID:   id,
		Amount:   value,
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Nonce:    nonce,
	}, nil
}

// AwaitBookingConfirmation polls for the createCall receipt at a fixed
// interval up to the configured attempt ceiling. A failed receipt is fatal.
// After a successful receipt the record's existence is re-read; a freshly
// booked call is not yet paid, so the isPaid check belongs to completion,
// not here.
func (o *Orchestrator) AwaitBookingConfirmation(ctx context.Context, txHash string, id common.Hash) error {
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(o.confirmInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= o.confirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		metrics.ConfirmationAttemptsTotal.Inc()

		receipt, err := o.client.TransactionReceipt(ctx, hash)
		if err != nil {
			continue
		}

		if receipt.Status == types.ReceiptStatusFailed {
			metrics.ConfirmationFailuresTotal.Inc()
			return &TxError{Op: "confirm booking", TxHash: txHash, Err: ErrTransactionFailed}
		}

		exists, err := o.DoesCallExist(ctx, id)
		if err != nil {
			metrics.ConfirmationFailuresTotal.Inc()
			return &TxError{Op: "confirm booking", TxHash: txHash, Err: err}
		}
		if !exists {
			metrics.ConfirmationFailuresTotal.Inc()
			return &TxError{Op: "confirm booking", TxHash: txHash, Err: ErrBookingNotConfirmed}
		}

		o.logger.Info("booking confirmed", "callId", id.Hex(), "tx", txHash)
		return nil
	}

	metrics.ConfirmationFailuresTotal.Inc()
	return &TxError{Op: "confirm booking", TxHash: txHash, Err: ErrConfirmationTimeout}
}

// AwaitPaymentConfirmation polls for the completion receipt at a fixed
// interval up to the configured attempt ceiling. A failed receipt is fatal.
// After a successful receipt the call record is re-read and must show
// isPaid; a stale read is reported as ErrPaymentNotConfirmed rather than
// trusted.
func (o *Orchestrator) AwaitPaymentConfirmation(ctx context.Context, txHash string, id common.Hash) error {
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(o.confirmInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= o.confirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		metrics.ConfirmationAttemptsTotal.Inc()

		receipt, err := o.client.TransactionReceipt(ctx, hash)
		if err != nil {
			// Not yet mined, or a transient provider error; keep polling.
			continue
		}

		if receipt.Status == types.ReceiptStatusFailed {
			metrics.ConfirmationFailuresTotal.Inc()
			return &TxError{Op: "confirm", TxHash: txHash, Err: ErrTransactionFailed}
		}

		details, err := o.GetCallDetails(ctx, id)
		if err != nil {
			metrics.ConfirmationFailuresTotal.Inc()
			return &TxError{Op: "confirm", TxHash: txHash, Err: err}
		}
		if !details.IsPaid {
			metrics.ConfirmationFailuresTotal.Inc()
			return &TxError{Op: "confirm", TxHash: txHash, Err: ErrPaymentNotConfirmed}
		}

		metrics.PaymentsReleasedTotal.Inc()
		o.logger.Info("payment confirmed", "callId", id.Hex(), "tx", txHash)
		return nil
	}

	metrics.ConfirmationFailuresTotal.Inc()
	return &TxError{Op: "confirm", TxHash: txHash, Err: ErrConfirmationTimeout}
}

// GetCallDetails reads the stored call record through the contract ABI.
func (o *Orchestrator) GetCallDetails(ctx context.Context, id common.Hash) (*ledger.Call, error) {
	data, err := ledger.ABI.Pack("getCallDetails", id)
	if err != nil {
		return nil, &TxError{Op: "pack", Err: err}
	}

	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: data}, nil)
	if err != nil {
		return nil, DecodeRevert(err)
	}

	vals, err := ledger.ABI.Methods["getCallDetails"].Outputs.Unpack(out)
	if err != nil {
		return nil, &TxError{Op: "unpack", Err: err}
	}

	return &ledger.Call{
		Client:      vals[0].(common.Address),
		Developer:   vals[1].(common.Address),
		Amount:      vals[2].(*big.Int),
		Duration:    vals[3].(*big.Int),
		StartTime:   vals[4].(*big.Int),
		IsActive:    vals[5].(bool),
		IsCompleted: vals[6].(bool),
		IsPaid:      vals[7].(bool),
	}, nil
}

// DoesCallExist reports whether a record is stored under the id.
func (o *Orchestrator) DoesCallExist(ctx context.Context, id common.Hash) (bool, error) {
	data, err := ledger.ABI.Pack("doesCallExist", id)
	if err != nil {
		return false, &TxError{Op: "pack", Err: err}
	}

	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: data}, nil)
	if err != nil {
		return false, DecodeRevert(err)
	}

	vals, err := ledger.ABI.Methods["doesCallExist"].Outputs.Unpack(out)
	if err != nil {
		return false, &TxError{Op: "unpack", Err: err}
	}
	return vals[0].(bool), nil
}

// ContractBalance returns the ledger's escrowed balance.
func (o *Orchestrator) ContractBalance(ctx context.Context) (*big.Int, error) {
	return o.client.BalanceAt(ctx, o.contract, nil)
}
