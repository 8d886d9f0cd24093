package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trickybutshruti/Connect-Dev/internal/chain"
	"github.com/Trickybutshruti/Connect-Dev/internal/ledger"
	"github.com/Trickybutshruti/Connect-Dev/internal/session"
)

var (
	e2eOwner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	e2eContract = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func generateWallet(t *testing.T) (common.Address, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey), hexutil.Encode(crypto.FromECDSA(key))[2:]
}

// newPartyServer builds a server the way one party deploys it: its own
// wallet, its own role, the shared session store and the shared chain.
func newPartyServer(t *testing.T, store session.Store, b *ledger.Backend, keyHex, role string) *Server {
	t.Helper()
	orch, err := chain.New(chain.Config{
		RPCURL:          "http://localhost:8545",
		ChainID:         11155111,
		ChainName:       "Sepolia",
		ContractAddress: e2eContract.Hex(),
		PrivateKey:      keyHex,
		ConfirmInterval: time.Millisecond,
		ConfirmAttempts: 50,
	}, chain.WithClient(b))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Role = role
	srv, err := New(cfg, WithStore(store), WithPayments(newEscrowDriver(orch)))
	require.NoError(t, err)
	return srv
}

// The whole booking flow through the real escrow driver against the
// simulated chain: the client instance requests, pays and joins; the
// developer instance accepts, ends and settles the escrow.
func TestBookingFlow_SettlesOverSimulatedChain(t *testing.T) {
	clientAddr, clientKeyHex := generateWallet(t)
	devAddr, devKeyHex := generateWallet(t)

	l := ledger.New(e2eOwner)
	funds, err := chain.ParseEther("1")
	require.NoError(t, err)
	l.Credit(clientAddr, funds)
	b := ledger.NewBackend(l, 11155111, e2eContract)

	store := session.NewMemoryStore()
	clientSrv := newPartyServer(t, store, b, clientKeyHex, "client")
	devSrv := newPartyServer(t, store, b, devKeyHex, "developer")

	s := requestCallFixture(t, clientSrv)

	w := doJSON(t, devSrv, http.MethodPost, "/v1/calls/"+s.ID+"/accept", gin.H{"developerId": "dev-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Payment: the booking transaction is mined and confirmed against the
	// on-chain record, which at this point exists but is not yet paid.
	w = doJSON(t, clientSrv, http.MethodPost, "/v1/calls/"+s.ID+"/pay", gin.H{
		"developerWallet": devAddr.Hex(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	paid := decodeSession(t, w)
	assert.Equal(t, session.StatusPaid, paid.Status)
	assert.Equal(t, clientAddr.Hex(), paid.WalletAddress)

	amount, err := chain.ParseEther("0.05")
	require.NoError(t, err)
	held, err := b.BalanceAt(context.Background(), e2eContract, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, held.Cmp(amount), "escrow should hold the booked amount")

	w = doJSON(t, clientSrv, http.MethodPost, "/v1/calls/"+s.ID+"/join", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, session.StatusActive, decodeSession(t, w).Status)

	w = doJSON(t, devSrv, http.MethodPost, "/v1/calls/"+s.ID+"/end", gin.H{"reason": "manual"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, session.StatusCompleted, decodeSession(t, w).Status)

	// The developer instance observes the completed session and settles.
	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), s.ID)
		return err == nil && got.PaymentReleased
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, l.BalanceOf(devAddr).Cmp(amount), "payout should reach the developer wallet")

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/"+s.ID+"/escrow", nil)
	rec := httptest.NewRecorder()
	devSrv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var escrow map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &escrow))
	assert.Equal(t, true, escrow["isCompleted"])
	assert.Equal(t, true, escrow["isPaid"])
	assert.Equal(t, devAddr.Hex(), escrow["developer"])
}
