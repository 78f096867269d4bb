package evm

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var erc6492MagicBytes = common.FromHex(ERC6492MagicValue)

var erc6492Arguments = func() abi.Arguments {
	addressTy, _ := abi.NewType("address", "", nil)
	bytesTy, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{
		{Type: addressTy}, // factory
		{Type: bytesTy},   // factoryCalldata
		{Type: bytesTy},   // signature
	}
}()

// IsERC6492Signature reports whether sig carries the ERC-6492 magic suffix
func IsERC6492Signature(sig []byte) bool {
	if len(sig) < 32 {
		return false
	}
	return bytes.Equal(sig[len(sig)-32:], erc6492MagicBytes)
}

// ParseERC6492Signature unwraps
//
//	abi.encode((address factory, bytes factoryCalldata, bytes signature)) || magic
//
// A signature without the magic suffix is returned as the inner signature.
func ParseERC6492Signature(sig []byte) (*ERC6492SignatureData, error) {
	if !IsERC6492Signature(sig) {
		return &ERC6492SignatureData{InnerSignature: sig}, nil
	}

	unpacked, err := erc6492Arguments.Unpack(sig[:len(sig)-32])
	if err != nil {
		return nil, fmt.Errorf("invalid ERC-6492 signature: %w", err)
	}
	if len(unpacked) != 3 {
		return nil, fmt.Errorf("invalid ERC-6492 signature: expected 3 fields, got %d", len(unpacked))
	}

	factory, ok := unpacked[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("invalid ERC-6492 signature: factory is not an address")
	}
	factoryCalldata, ok := unpacked[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid ERC-6492 signature: factoryCalldata is not bytes")
	}
	innerSignature, ok := unpacked[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid ERC-6492 signature: innerSignature is not bytes")
	}

	return &ERC6492SignatureData{
		Factory:         [20]byte(factory),
		FactoryCalldata: factoryCalldata,
		InnerSignature:  innerSignature,
	}, nil
}

// WrapERC6492Signature is the inverse of ParseERC6492Signature
func WrapERC6492Signature(factory common.Address, factoryCalldata, signature []byte) ([]byte, error) {
	packed, err := erc6492Arguments.Pack(factory, factoryCalldata, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to pack ERC-6492 signature: %w", err)
	}
	return append(packed, erc6492MagicBytes...), nil
}
