package evm

import (
	"math/big"
	"os"

	clearsky "github.com/clearskynet/clearsky/go"
)

const (
	// Native IP token decimals
	NativeDecimals = 18

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Default number of blocks a payment must be buried under before it is accepted
	DefaultConfirmations = 1

	// EIP-1193 provider error codes
	ProviderErrUserRejected      = 4001
	ProviderErrUnauthorized      = 4100
	ProviderErrUnrecognizedChain = 4902

	// ERC-6492 magic value (last 32 bytes of wrapped signature)
	// This is bytes32(uint256(keccak256("erc6492.invalid.signature")) - 1)
	ERC6492MagicValue = "0x6492649264926492649264926492649264926492649264926492649264926492"

	// EIP-1271 magic value (returned by isValidSignature on success)
	EIP1271MagicValue = "0x1626ba7e"

	// Verification reasons shared with the marketplace service
	ErrInvalidSignature      = "invalid_wallet_signature"
	ErrUndeployedSmartWallet = "undeployed_smart_wallet"
)

// Story networks
const (
	NetworkStoryMainnet clearsky.Network = "eip155:1514"
	NetworkStoryAeneid  clearsky.Network = "eip155:1315"
)

var (
	ChainIDStoryMainnet = big.NewInt(1514)
	ChainIDStoryAeneid  = big.NewInt(1315)

	ipCurrency = clearsky.NativeCurrency{Name: "IP", Symbol: "IP", Decimals: NativeDecimals}

	// ChainConfigs holds the chains the marketplace can settle on
	ChainConfigs = map[clearsky.Network]clearsky.ChainConfig{
		NetworkStoryMainnet: {
			Network:        NetworkStoryMainnet,
			ChainID:        ChainIDStoryMainnet,
			Name:           "Story",
			NativeCurrency: ipCurrency,
			RPCURLs:        []string{"https://mainnet.storyrpc.io"},
			ExplorerURLs:   []string{"https://www.storyscan.io"},
		},
		NetworkStoryAeneid: {
			Network:        NetworkStoryAeneid,
			ChainID:        ChainIDStoryAeneid,
			Name:           "Story Aeneid",
			NativeCurrency: ipCurrency,
			RPCURLs:        []string{"https://aeneid.storyrpc.io"},
			ExplorerURLs:   []string{"https://aeneid.storyscan.io"},
		},
	}

	// networkAliases maps short names accepted by the CLI and config files
	networkAliases = map[string]clearsky.Network{
		"story":         NetworkStoryMainnet,
		"story-mainnet": NetworkStoryMainnet,
		"mainnet":       NetworkStoryMainnet,
		"aeneid":        NetworkStoryAeneid,
		"story-aeneid":  NetworkStoryAeneid,
		"testnet":       NetworkStoryAeneid,
	}

	// Story protocol periphery, identical on mainnet and Aeneid
	WIPAddress               = "0x1514000000000000000000000000000000000000"
	LicensingModuleAddress   = "0x04fbd8a2e56dd85CFD5500A4A4DfA955B9f1dE6f"
	PILicenseTemplateAddress = "0x2E896b0b2Fdb7457499B56AAaA4AE55BCB4Cd316"

	// MintLicenseTokensABI matches LicensingModule.mintLicenseTokens
	MintLicenseTokensABI = []byte(`[
		{
			"inputs": [
				{"name": "licensorIpId", "type": "address"},
				{"name": "licenseTemplate", "type": "address"},
				{"name": "licenseTermsId", "type": "uint256"},
				{"name": "amount", "type": "uint256"},
				{"name": "receiver", "type": "address"},
				{"name": "royaltyContext", "type": "bytes"},
				{"name": "maxMintingFee", "type": "uint256"},
				{"name": "maxRevenueShare", "type": "uint32"}
			],
			"name": "mintLicenseTokens",
			"outputs": [{"name": "startLicenseTokenId", "type": "uint256"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// WIPABI covers wrapping and unwrapping of the native token
	WIPABI = []byte(`[
		{
			"inputs": [],
			"name": "deposit",
			"outputs": [],
			"stateMutability": "payable",
			"type": "function"
		},
		{
			"inputs": [{"name": "value", "type": "uint256"}],
			"name": "withdraw",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [{"name": "owner", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// TransferEventABI is the ERC-721 Transfer event emitted when license tokens are minted
	TransferEventABI = []byte(`[
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "from", "type": "address"},
				{"indexed": true, "name": "to", "type": "address"},
				{"indexed": true, "name": "tokenId", "type": "uint256"}
			],
			"name": "Transfer",
			"type": "event"
		}
	]`)
)

func init() {
	// Self-hosted RPC endpoints take precedence over the public ones
	if rpc := os.Getenv("STORY_MAINNET_RPC_URL"); rpc != "" {
		overrideRPC(NetworkStoryMainnet, rpc)
	}
	if rpc := os.Getenv("STORY_AENEID_RPC_URL"); rpc != "" {
		overrideRPC(NetworkStoryAeneid, rpc)
	}
}

func overrideRPC(network clearsky.Network, rpc string) {
	config := ChainConfigs[network]
	config.RPCURLs = append([]string{rpc}, config.RPCURLs...)
	ChainConfigs[network] = config
}
