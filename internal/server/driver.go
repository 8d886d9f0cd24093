package server

import (
	"context"
	"fmt"

	"github.com/Trickybutshruti/Connect-Dev/internal/chain"
	"github.com/Trickybutshruti/Connect-Dev/internal/ledger"
)

// Payments is the slice of the on-chain orchestrator the HTTP layer needs.
// It extends the coordinator's driver with booking and read operations so
// tests can stand in a fake without an RPC endpoint.
type Payments interface {
	// StartCall and CompleteCall submit lifecycle transactions for the call
	// reference; ConfirmPayment blocks until the escrow release is observed.
	StartCall(ctx context.Context, callRef string) (txHash string, err error)
	CompleteCall(ctx context.Context, callRef string) (txHash string, err error)
	ConfirmPayment(ctx context.Context, txHash, callRef string) error

	// BookCall funds the escrow for a new call. It returns the transaction
	// hash and the wallet that paid; ConfirmBooking then blocks until the
	// booking transaction is mined and the record exists on chain.
	BookCall(ctx context.Context, callRef, developerWallet, amount string, durationMinutes int) (txHash, payerWallet string, err error)
	ConfirmBooking(ctx context.Context, txHash, callRef string) error

	// CallDetails reads the on-chain record for a call reference.
	CallDetails(ctx context.Context, callRef string) (*ledger.Call, error)

	// Balance returns the contract's held balance in whole currency units.
	Balance(ctx context.Context) (string, error)

	// NetworkParams describes the chain for wallet_addEthereumChain prompts.
	NetworkParams() chain.NetworkParams
}

// escrowDriver adapts the chain orchestrator to the Payments interface and,
// by embedding, to session.PaymentDriver.
type escrowDriver struct {
	orch *chain.Orchestrator
}

func newEscrowDriver(orch *chain.Orchestrator) *escrowDriver {
	return &escrowDriver{orch: orch}
}

func (d *escrowDriver) StartCall(ctx context.Context, callRef string) (string, error) {
	sub, err := d.orch.SubmitStart(ctx, chain.CallIDFromRef(callRef))
	if err != nil {
		return "", err
	}
	return sub.TxHash, nil
}

func (d *escrowDriver) CompleteCall(ctx context.Context, callRef string) (string, error) {
	sub, err := d.orch.SubmitComplete(ctx, chain.CallIDFromRef(callRef))
	if err != nil {
		return "", err
	}
	return sub.TxHash, nil
}

func (d *escrowDriver) ConfirmPayment(ctx context.Context, txHash, callRef string) error {
	return d.orch.AwaitPaymentConfirmation(ctx, txHash, chain.CallIDFromRef(callRef))
}

func (d *escrowDriver) BookCall(ctx context.Context, callRef, developerWallet, amount string, durationMinutes int) (string, string, error) {
	sub, err := d.orch.SubmitCreate(ctx, chain.CreateRequest{
		CallRef:         callRef,
		Developer:       developerWallet,
		Amount:          amount,
		DurationMinutes: durationMinutes,
	})
	if err != nil {
		return "", "", err
	}
	return sub.TxHash, d.orch.Address().Hex(), nil
}

func (d *escrowDriver) ConfirmBooking(ctx context.Context, txHash, callRef string) error {
	return d.orch.AwaitBookingConfirmation(ctx, txHash, chain.CallIDFromRef(callRef))
}

func (d *escrowDriver) CallDetails(ctx context.Context, callRef string) (*ledger.Call, error) {
	return d.orch.GetCallDetails(ctx, chain.CallIDFromRef(callRef))
}

func (d *escrowDriver) Balance(ctx context.Context) (string, error) {
	wei, err := d.orch.ContractBalance(ctx)
	if err != nil {
		return "", fmt.Errorf("server: contract balance: %w", err)
	}
	return chain.FormatEther(wei), nil
}

func (d *escrowDriver) NetworkParams() chain.NetworkParams {
	return d.orch.NetworkParams()
}
