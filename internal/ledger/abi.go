package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ContractABI is the stable wire contract of the escrow ledger.
const ContractABI = `[
	{"type":"function","name":"createCall","stateMutability":"payable","inputs":[{"name":"callId","type":"bytes32"},{"name":"developer","type":"address"},{"name":"duration","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"startCall","stateMutability":"nonpayable","inputs":[{"name":"callId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"completeCall","stateMutability":"nonpayable","inputs":[{"name":"callId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"getCallDetails","stateMutability":"view","inputs":[{"name":"callId","type":"bytes32"}],"outputs":[{"name":"client","type":"address"},{"name":"developer","type":"address"},{"name":"amount","type":"uint256"},{"name":"duration","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"isActive","type":"bool"},{"name":"isCompleted","type":"bool"},{"name":"isPaid","type":"bool"}]},
	{"type":"function","name":"doesCallExist","stateMutability":"view","inputs":[{"name":"callId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"calls","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"client","type":"address"},{"name":"developer","type":"address"},{"name":"amount","type":"uint256"},{"name":"duration","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"isActive","type":"bool"},{"name":"isCompleted","type":"bool"},{"name":"isPaid","type":"bool"}]},
	{"type":"event","name":"CallCreated","inputs":[{"name":"callId","type":"bytes32","indexed":true},{"name":"client","type":"address","indexed":true},{"name":"developer","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"duration","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"CallStarted","inputs":[{"name":"callId","type":"bytes32","indexed":true},{"name":"startTime","type":"uint256","indexed":false}]},
	{"type":"event","name":"CallCompleted","inputs":[{"name":"callId","type":"bytes32","indexed":true},{"name":"developer","type":"address","indexed":true},{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"PaymentReleased","inputs":[{"name":"callId","type":"bytes32","indexed":true},{"name":"developer","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Debug","inputs":[{"name":"callId","type":"bytes32","indexed":false},{"name":"message","type":"string","indexed":false}]}
]`

// ABI is the parsed contract ABI, shared by the ledger backend and the
// transaction orchestrator.
var ABI = mustABI()

func mustABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		panic("ledger: failed to parse contract ABI: " + err.Error())
	}
	return parsed
}
