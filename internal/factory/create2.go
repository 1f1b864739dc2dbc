package factory

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-1167 minimal proxy around a 20-byte implementation address.
var (
	proxyPrefix = common.FromHex("0x3d602d80600a3d3981f3363d3d373d3d3d363d73")
	proxySuffix = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")
)

var (
	saltArgsOnce sync.Once
	saltArgs     abi.Arguments
	saltArgsErr  error
)

func saltArguments() (abi.Arguments, error) {
	saltArgsOnce.Do(func() {
		addressType, err := abi.NewType("address", "", nil)
		if err != nil {
			saltArgsErr = err
			return
		}
		stringType, err := abi.NewType("string", "", nil)
		if err != nil {
			saltArgsErr = err
			return
		}
		saltArgs = abi.Arguments{
			{Name: "deployer", Type: addressType},
			{Name: "asset", Type: addressType},
			{Name: "name", Type: stringType},
			{Name: "symbol", Type: stringType},
		}
	})
	return saltArgs, saltArgsErr
}

// Salt returns keccak256(abi.encode(deployer, asset, name, symbol)).
func Salt(deployer, asset common.Address, name, symbol string) (common.Hash, error) {
	args, err := saltArguments()
	if err != nil {
		return common.Hash{}, fmt.Errorf("salt abi: %w", err)
	}
	encoded, err := args.Pack(deployer, asset, name, symbol)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode salt: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// ProxyInitCode returns the minimal-proxy creation code delegating to
// implementation.
func ProxyInitCode(implementation common.Address) []byte {
	code := make([]byte, 0, len(proxyPrefix)+common.AddressLength+len(proxySuffix))
	code = append(code, proxyPrefix...)
	code = append(code, implementation.Bytes()...)
	return append(code, proxySuffix...)
}

// CloneAddress derives the CREATE2 address of a proxy to implementation
// deployed by factory with salt.
func CloneAddress(factory, implementation common.Address, salt common.Hash) common.Address {
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(ProxyInitCode(implementation)))
}
