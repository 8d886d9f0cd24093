package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend exposes the ledger over the same call surface a JSON-RPC node
// provides, so the transaction orchestrator can run against it unchanged.
// Dry-run calls hit the validators without mutating; submitted transactions
// execute for real and produce receipts.
type Backend struct {
	mu       sync.Mutex
	ledger   *Ledger
	chainID  *big.Int
	contract common.Address
	gasPrice *big.Int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	blockNum uint64
}

// baseGas is the gas estimate returned for any valid ledger operation.
const baseGas = uint64(90_000)

// NewBackend wraps a ledger as a simulated chain at the given address.
func NewBackend(l *Ledger, chainID int64, contract common.Address) *Backend {
	return &Backend{
		ledger:   l,
		chainID:  big.NewInt(chainID),
		contract: contract,
		gasPrice: big.NewInt(2_000_000_000), // 2 gwei
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

// Ledger returns the underlying ledger.
func (b *Backend) Ledger() *Ledger {
	return b.ledger
}

// revertError mirrors the DataError shape a real RPC client returns for
// reverted eth_call and eth_estimateGas requests.
type revertError struct {
	reason error
	data   []byte
}

func (e *revertError) Error() string {
	return "execution reverted: " + e.reason.Error()
}

func (e *revertError) Unwrap() error { return e.reason }

// ErrorData returns the hex-encoded revert data, matching go-ethereum's
// rpc.DataError contract.
func (e *revertError) ErrorData() interface{} {
	return hexutil.Encode(e.data)
}

// newRevertError wraps a ledger revert with its ABI-encoded wire data.
func newRevertError(err error) error {
	type abiEncoder interface{ ABIEncode() []byte }
	var enc abiEncoder
	if errors.As(err, &enc) {
		return &revertError{reason: err, data: enc.ABIEncode()}
	}
	return err
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.gasPrice), nil
}

func (b *Backend) NetworkID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if account == b.contract {
		return b.ledger.ContractBalance(), nil
	}
	return b.ledger.BalanceOf(account), nil
}

func (b *Backend) Close() {}

// EstimateGas dry-runs the call and returns a flat estimate on success.
func (b *Backend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if _, err := b.CallContract(ctx, call, nil); err != nil {
		return 0, err
	}
	return baseGas, nil
}

// CallContract serves reads and dry-runs writes against current state.
func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if call.To == nil || *call.To != b.contract {
		return nil, fmt.Errorf("backend: no contract at %v", call.To)
	}
	if len(call.Data) < 4 {
		return nil, fmt.Errorf("backend: calldata too short")
	}

	method, err := ABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("backend: unknown method selector: %w", err)
	}

	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("backend: unpack %s args: %w", method.Name, err)
	}

	l := b.ledger
	switch method.Name {
	case "getCallDetails":
		id := common.Hash(args[0].([32]byte))
		details, err := l.GetCallDetails(id)
		if err != nil {
			return nil, newRevertError(err)
		}
		return method.Outputs.Pack(
			details.Client, details.Developer,
			details.Amount, details.Duration, details.StartTime,
			details.IsActive, details.IsCompleted, details.IsPaid,
		)

	case "doesCallExist":
		id := common.Hash(args[0].([32]byte))
		return method.Outputs.Pack(l.DoesCallExist(id))

	case "owner":
		return method.Outputs.Pack(l.Owner())

	case "calls":
		id := common.Hash(args[0].([32]byte))
		record := l.Calls(id)
		return method.Outputs.Pack(
			record.Client, record.Developer,
			record.Amount, record.Duration, record.StartTime,
			record.IsActive, record.IsCompleted, record.IsPaid,
		)

	case "createCall":
		id := common.Hash(args[0].([32]byte))
		developer := args[1].(common.Address)
		duration := args[2].(*big.Int)
		l.mu.Lock()
		err := l.validateCreate(call.From, id, developer, duration, call.Value)
		l.mu.Unlock()
		if err != nil {
			return nil, newRevertError(err)
		}
		return nil, nil

	case "startCall":
		id := common.Hash(args[0].([32]byte))
		l.mu.Lock()
		err := l.validateStart(id)
		l.mu.Unlock()
		if err != nil {
			return nil, newRevertError(err)
		}
		return nil, nil

	case "completeCall":
		id := common.Hash(args[0].([32]byte))
		l.mu.Lock()
		err := l.validateComplete(call.From, id)
		l.mu.Unlock()
		if err != nil {
			return nil, newRevertError(err)
		}
		return nil, nil
	}

	return nil, fmt.Errorf("backend: unhandled method %s", method.Name)
}

// SendTransaction executes a signed transaction against the ledger. A revert
// produces a status-0 receipt rather than a send error, matching node
// behavior once a transaction is accepted into a block.
func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	signer := types.LatestSignerForChainID(b.chainID)
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return fmt.Errorf("backend: recover sender: %w", err)
	}
	if tx.To() == nil || *tx.To() != b.contract {
		return fmt.Errorf("backend: no contract at %v", tx.To())
	}

	data := tx.Data()
	if len(data) < 4 {
		return fmt.Errorf("backend: calldata too short")
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return fmt.Errorf("backend: unknown method selector: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return fmt.Errorf("backend: unpack %s args: %w", method.Name, err)
	}

	var execErr error
	switch method.Name {
	case "createCall":
		id := common.Hash(args[0].([32]byte))
		developer := args[1].(common.Address)
		duration := args[2].(*big.Int)
		execErr = b.ledger.CreateCall(sender, id, developer, duration, tx.Value())
	case "startCall":
		id := common.Hash(args[0].([32]byte))
		execErr = b.ledger.StartCall(id)
	case "completeCall":
		id := common.Hash(args[0].([32]byte))
		execErr = b.ledger.CompleteCall(sender, id)
	default:
		return fmt.Errorf("backend: method %s is not a transaction", method.Name)
	}

	// Node-level rejections never make it into a block.
	if errors.Is(execErr, ErrInsufficientFunds) {
		return execErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nonces[sender] = tx.Nonce() + 1
	b.blockNum++

	status := types.ReceiptStatusSuccessful
	if execErr != nil {
		status = types.ReceiptStatusFailed
	}
	b.receipts[tx.Hash()] = &types.Receipt{
		TxHash:      tx.Hash(),
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(b.blockNum),
		GasUsed:     baseGas,
	}
	return nil
}

// TransactionReceipt returns the receipt for a mined transaction, or
// ethereum.NotFound while it is still pending.
func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}
