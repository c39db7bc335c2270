package main

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// executorABI is the external executor contract's two entrypoints, per §4.12:
// executeArb for direct dual-router cycles and executeTriangularArb for
// three-hop cycles, both taking the input token, amount, token address path
// and the minimum acceptable profit; executeArb also takes a direction flag.
var executorABI abi.ABI

func init() {
	const spec = `[
		{"name":"executeArb","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},
		           {"name":"path","type":"address[]"},{"name":"direction","type":"bool"},
		           {"name":"minProfit","type":"uint256"}]},
		{"name":"executeTriangularArb","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},
		           {"name":"path","type":"address[]"},{"name":"minProfit","type":"uint256"}]}
	]`
	parsed, err := abi.JSON(strings.NewReader(spec))
	if err != nil {
		panic(err)
	}
	executorABI = parsed
}

// encodeExecuteArb ABI-encodes a call to the external executor contract for
// a two-router direct cycle. direction distinguishes which router pair
// ordering the path represents.
func encodeExecuteArb(token string, amount *big.Int, path []string, direction bool, minProfit *big.Int) ([]byte, error) {
	return executorABI.Pack("executeArb", common.HexToAddress(token), amount, toAddresses(path), direction, minProfit)
}

// encodeExecuteTriangularArb ABI-encodes a call for a three-hop cycle.
func encodeExecuteTriangularArb(token string, amount *big.Int, path []string, minProfit *big.Int) ([]byte, error) {
	return executorABI.Pack("executeTriangularArb", common.HexToAddress(token), amount, toAddresses(path), minProfit)
}

func toAddresses(path []string) []common.Address {
	out := make([]common.Address, len(path))
	for i, p := range path {
		out[i] = common.HexToAddress(p)
	}
	return out
}
