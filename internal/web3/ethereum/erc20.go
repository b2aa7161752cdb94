package ethereum

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const tokenABIJSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"string"}]}
]`

// TransferTopic is the shared ERC-20 / ERC-721 Transfer event signature.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var tokenABI = mustParseABI(tokenABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PackTransfer encodes an ERC-20 transfer(to, amount) call.
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("transfer", to, amount)
}

// PackTokenURI encodes an ERC-721 tokenURI(id) call.
func PackTokenURI(tokenID *big.Int) ([]byte, error) {
	return tokenABI.Pack("tokenURI", tokenID)
}

// UnpackTokenURI decodes the string returned by tokenURI.
func UnpackTokenURI(data []byte) (string, error) {
	out, err := tokenABI.Unpack("tokenURI", data)
	if err != nil {
		return "", err
	}
	uri, _ := out[0].(string)
	return uri, nil
}

// TokenTransfer is a decoded ERC-20 Transfer log.
type TokenTransfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// DecodeTokenTransfer extracts an ERC-20 Transfer from a log. ERC-721
// transfers index the token id and are rejected by the topic count.
func DecodeTokenTransfer(log coretypes.Log) (TokenTransfer, bool) {
	if len(log.Topics) != 3 || log.Topics[0] != TransferTopic {
		return TokenTransfer{}, false
	}
	return TokenTransfer{
		Token: log.Address,
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: new(big.Int).SetBytes(log.Data),
	}, true
}

// MintedTokenID extracts the token id from an ERC-721 mint log
// (Transfer from the zero address).
func MintedTokenID(log coretypes.Log) (*big.Int, bool) {
	if len(log.Topics) != 4 || log.Topics[0] != TransferTopic {
		return nil, false
	}
	if common.BytesToAddress(log.Topics[1].Bytes()) != (common.Address{}) {
		return nil, false
	}
	return new(big.Int).SetBytes(log.Topics[3].Bytes()), true
}
