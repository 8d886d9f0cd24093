// Package chain drives escrow ledger transactions from the client side.
//
// It translates booking intents into contract calls, pre-validates them
// against current chain state so predictable failures never cost gas, and
// decodes the ledger's structured reverts into user-facing messages.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidPrivateKey   = errors.New("chain: invalid private key")
	ErrInvalidAddress      = errors.New("chain: invalid address")
	ErrInvalidAmount       = errors.New("chain: invalid amount")
	ErrInvalidDuration     = errors.New("chain: invalid duration")
	ErrRPCConnection       = errors.New("chain: RPC connection failed")
	ErrTransactionFailed   = errors.New("chain: transaction failed")
	ErrConfirmationTimeout = errors.New("chain: confirmation attempts exhausted")
	ErrBookingNotConfirmed = errors.New("chain: booking not recorded after transaction")
	ErrPaymentNotConfirmed = errors.New("chain: payment not confirmed after transaction")
)

// TxError wraps a failed orchestration step with context.
type TxError struct {
	Op     string // Operation that failed
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *TxError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// PreconditionError reports a completion precondition that failed locally,
// before any transaction was submitted.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "chain: precondition failed: " + e.Reason
}

// NetworkMismatchError reports a provider attached to the wrong network. It
// carries the full parameters needed to request a wallet network switch.
type NetworkMismatchError struct {
	Got    *big.Int
	Want   *big.Int
	Params NetworkParams
}

func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("chain: connected to network %s, expected %s (%s)",
		e.Got.String(), e.Want.String(), e.Params.ChainName)
}

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// EthClient abstracts the go-ethereum client for testing. The ledger's
// simulated backend satisfies it as well.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	Close()
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// NativeCurrency describes the chain's native currency for wallet prompts.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// NetworkParams is the wallet_addEthereumChain request payload used to drive
// a network switch when the provider is on the wrong chain.
type NetworkParams struct {
	ChainID           string         `json:"chainId"` // hex-encoded
	ChainName         string         `json:"chainName"`
	RPCURLs           []string       `json:"rpcUrls"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls"`
}

// Config for creating an orchestrator.
type Config struct {
	RPCURL           string
	ChainID          int64
	ChainName        string
	ContractAddress  string
	PrivateKey       string // Hex string, 0x prefix optional
	NativeCurrency   NativeCurrency
	BlockExplorerURL string

	// Confirmation polling; zero values take the defaults below.
	ConfirmInterval time.Duration
	ConfirmAttempts int
}

const (
	// DefaultConfirmInterval between receipt polls.
	DefaultConfirmInterval = time.Second

	// DefaultConfirmAttempts bounds the receipt polling loop.
	DefaultConfirmAttempts = 30

	// gasMarginPercent is added on top of the node's gas estimate.
	gasMarginPercent = 20
)

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithClient sets a custom chain client (useful for testing and simulation).
func WithClient(client EthClient) Option {
	return func(o *Orchestrator) {
		o.client = client
	}
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// Orchestrator builds, validates, submits and confirms ledger transactions.
type Orchestrator struct {
	client          EthClient
	privateKey      *ecdsa.PrivateKey
	address         common.Address
	chainID         *big.Int
	contract        common.Address
	params          NetworkParams
	confirmInterval time.Duration
	confirmAttempts int
	logger          *slog.Logger
}

// New creates an orchestrator for the configured network and contract.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	o := &Orchestrator{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.ContractAddress),
		params: NetworkParams{
			ChainID:           fmt.Sprintf("0x%x", cfg.ChainID),
			ChainName:         cfg.ChainName,
			RPCURLs:           []string{cfg.RPCURL},
			NativeCurrency:    cfg.NativeCurrency,
			BlockExplorerURLs: []string{cfg.BlockExplorerURL},
		},
		confirmInterval: cfg.ConfirmInterval,
		confirmAttempts: cfg.ConfirmAttempts,
		logger:          slog.Default(),
	}
	if o.confirmInterval <= 0 {
		o.confirmInterval = DefaultConfirmInterval
	}
	if o.confirmAttempts <= 0 {
		o.confirmAttempts = DefaultConfirmAttempts
	}

	for _, opt := range opts {
		opt(o)
	}

	// Connect to RPC if no client provided
	if o.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		o.client = client
	}

	return o, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: private key required", ErrInvalidPrivateKey)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return fmt.Errorf("%w: contract address %q", ErrInvalidAddress, cfg.ContractAddress)
	}
	return nil
}

// Address returns the signing account's address.
func (o *Orchestrator) Address() common.Address {
	return o.address
}

// Contract returns the deployed ledger address.
func (o *Orchestrator) Contract() common.Address {
	return o.contract
}

// NetworkParams returns the switch-request parameters for the expected chain.
func (o *Orchestrator) NetworkParams() NetworkParams {
	return o.params
}

// NetworkID reports the chain id the provider is attached to.
func (o *Orchestrator) NetworkID(ctx context.Context) (*big.Int, error) {
	return o.client.NetworkID(ctx)
}

// ValidateNetwork checks that the provider is attached to the expected
// chain. A mismatch returns *NetworkMismatchError carrying the parameters
// for a wallet switch request; the caller may retry after switching.
func (o *Orchestrator) ValidateNetwork(ctx context.Context) error {
	got, err := o.client.NetworkID(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRPCConnection, err)
	}
	if got.Cmp(o.chainID) != 0 {
		return &NetworkMismatchError{
			Got:    got,
			Want:   new(big.Int).Set(o.chainID),
			Params: o.params,
		}
	}
	return nil
}

// Close closes the client connection.
func (o *Orchestrator) Close() error {
	if o.client != nil {
		o.client.Close()
	}
	return nil
}
