package evm

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const eip1271ABI = `[{
	"inputs": [
		{"type": "bytes32", "name": "hash"},
		{"type": "bytes", "name": "signature"}
	],
	"name": "isValidSignature",
	"outputs": [{"type": "bytes4", "name": "magicValue"}],
	"stateMutability": "view",
	"type": "function"
}]`

// bytes4(keccak256("isValidSignature(bytes32,bytes)"))
var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

// VerifyEOASignature recovers the signer of a 65-byte ECDSA signature and
// compares it with expectedAddress. v may be 0/1 or 27/28.
func VerifyEOASignature(hash []byte, signature []byte, expectedAddress common.Address) (bool, error) {
	if len(signature) != 65 {
		return false, errors.New("invalid EOA signature length: expected 65 bytes")
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false, err
	}
	return crypto.PubkeyToAddress(*pubKey) == expectedAddress, nil
}

// VerifyEIP1271Signature asks a deployed smart wallet whether it accepts signature for hash
func VerifyEIP1271Signature(
	ctx context.Context,
	reader ContractReader,
	wallet string,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	result, err := reader.ReadContract(ctx, wallet, []byte(eip1271ABI), "isValidSignature", hash, signature)
	if err != nil {
		return false, err
	}

	var magic [4]byte
	switch v := result.(type) {
	case [4]byte:
		magic = v
	case []byte:
		if len(v) < 4 {
			return false, errors.New("invalid return value from isValidSignature: too short")
		}
		copy(magic[:], v[:4])
	default:
		return false, errors.New("invalid return type from isValidSignature: expected bytes4")
	}
	return magic == eip1271MagicValue, nil
}

// VerifyUniversalSignature verifies EOA, EIP-1271 and ERC-6492 signatures.
//
// A bare 65-byte signature is checked by key recovery without touching the
// chain. Otherwise the signer's code decides: deployed contracts are asked via
// EIP-1271; undeployed wallets are accepted only with ERC-6492 deployment data
// and allowUndeployed, and fall back to key recovery without it.
func VerifyUniversalSignature(
	ctx context.Context,
	reader SignatureReader,
	signerAddress string,
	hash [32]byte,
	signature []byte,
	allowUndeployed bool,
) (bool, *ERC6492SignatureData, error) {
	sigData, err := ParseERC6492Signature(signature)
	if err != nil {
		return false, nil, err
	}

	var zeroFactory [20]byte
	signer := common.HexToAddress(signerAddress)
	if len(sigData.InnerSignature) == 65 && sigData.Factory == zeroFactory {
		valid, err := VerifyEOASignature(hash[:], sigData.InnerSignature, signer)
		return valid, sigData, err
	}

	code, err := reader.GetCode(ctx, signerAddress)
	if err != nil {
		return false, nil, err
	}

	if len(code) == 0 {
		if sigData.Factory != zeroFactory && len(sigData.FactoryCalldata) > 0 {
			if !allowUndeployed {
				return false, nil, errors.New(ErrUndeployedSmartWallet + ": undeployed not allowed")
			}
			return true, sigData, nil
		}
		valid, err := VerifyEOASignature(hash[:], sigData.InnerSignature, signer)
		return valid, sigData, err
	}

	valid, err := VerifyEIP1271Signature(ctx, reader, signerAddress, hash, sigData.InnerSignature)
	return valid, sigData, err
}
