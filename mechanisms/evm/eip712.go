package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Login domain
const (
	LoginDomainName    = "ClearSky"
	LoginDomainVersion = "1"
	LoginPrimaryType   = "WalletLogin"
)

// LoginTypes are the EIP-712 types of the wallet login message
var LoginTypes = map[string][]TypedDataField{
	LoginPrimaryType: {
		{Name: "wallet", Type: "address"},
		{Name: "nonce", Type: "bytes32"},
		{Name: "issuedAt", Type: "uint256"},
	},
}

// LoginChallenge is the message a wallet signs to open a marketplace session
type LoginChallenge struct {
	Wallet   string   `json:"wallet"`
	Nonce    string   `json:"nonce"`
	IssuedAt int64    `json:"issuedAt"`
	ChainID  *big.Int `json:"chainId"`
}

// Domain returns the EIP-712 domain the challenge is signed under
func (c LoginChallenge) Domain() TypedDataDomain {
	return TypedDataDomain{
		Name:    LoginDomainName,
		Version: LoginDomainVersion,
		ChainID: c.ChainID,
	}
}

// Message returns the EIP-712 message of the challenge
func (c LoginChallenge) Message() (map[string]interface{}, error) {
	nonce, err := HexToBytes(c.Nonce)
	if err != nil || len(nonce) != 32 {
		return nil, fmt.Errorf("invalid login nonce %q", c.Nonce)
	}
	return map[string]interface{}{
		"wallet":   common.HexToAddress(c.Wallet).Hex(),
		"nonce":    nonce,
		"issuedAt": big.NewInt(c.IssuedAt),
	}, nil
}

// HashTypedData hashes EIP-712 typed data:
// keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	// The domain type must list exactly the members that are set
	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		domainType := []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
		}
		if domain.ChainID != nil {
			domainType = append(domainType, apitypes.Type{Name: "chainId", Type: "uint256"})
		}
		if domain.VerifyingContract != "" {
			domainType = append(domainType, apitypes.Type{Name: "verifyingContract", Type: "address"})
		}
		typedData.Types["EIP712Domain"] = domainType
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// HashLoginChallenge returns the digest a wallet signs for c
func HashLoginChallenge(c LoginChallenge) ([32]byte, error) {
	var digest [32]byte
	message, err := c.Message()
	if err != nil {
		return digest, err
	}
	hash, err := HashTypedData(c.Domain(), LoginTypes, LoginPrimaryType, message)
	if err != nil {
		return digest, err
	}
	copy(digest[:], hash)
	return digest, nil
}
