package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ERC20 ABI: only the read methods we call. Approvals come from the
// aggregator as setup instructions.
const erc20JSON = `[
	{
		"name": "decimals",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}]
	},
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "_owner", "type": "address"}],
		"outputs": [{"name": "balance", "type": "uint256"}]
	}
]`

func parseERC20() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(erc20JSON))
}
