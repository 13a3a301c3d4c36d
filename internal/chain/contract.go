// Package chain watches contract logs over JSON-RPC, both live through a
// subscription and historically through chunked range scans, and decodes them
// into domain events.
package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Family names.
const (
	FamilyExchange = "exchange"
	FamilyAdapter  = "adapter"
)

const exchangeABI = `[
  {"type":"event","name":"OrderFilled","anonymous":false,"inputs":[
    {"name":"orderHash","type":"bytes32","indexed":true},
    {"name":"maker","type":"address","indexed":true},
    {"name":"taker","type":"address","indexed":true},
    {"name":"makerAssetId","type":"uint256","indexed":false},
    {"name":"takerAssetId","type":"uint256","indexed":false},
    {"name":"making","type":"uint256","indexed":false},
    {"name":"taking","type":"uint256","indexed":false},
    {"name":"fee","type":"uint256","indexed":false}]},
  {"type":"event","name":"OrdersMatched","anonymous":false,"inputs":[
    {"name":"orderHash","type":"bytes32","indexed":true},
    {"name":"maker","type":"address","indexed":true},
    {"name":"makerAssetId","type":"uint256","indexed":false},
    {"name":"takerAssetId","type":"uint256","indexed":false},
    {"name":"making","type":"uint256","indexed":false},
    {"name":"taking","type":"uint256","indexed":false}]}
]`

const adapterABI = `[
  {"type":"event","name":"QuestionResolved","anonymous":false,"inputs":[
    {"name":"questionID","type":"bytes32","indexed":true},
    {"name":"settledPrice","type":"int256","indexed":true},
    {"name":"payouts","type":"uint256[]","indexed":false}]}
]`

// Contract is a family of contracts sharing an event set.
type Contract struct {
	name string
	abi  abi.ABI
}

// NewContract parses a JSON ABI holding the family's events.
func NewContract(name, abiJSON string) (Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return Contract{}, fmt.Errorf("chain: parse %s abi: %w", name, err)
	}
	return Contract{name: name, abi: parsed}, nil
}

func mustContract(name, abiJSON string) Contract {
	c, err := NewContract(name, abiJSON)
	if err != nil {
		panic(err)
	}
	return c
}

// ExchangeContract is the CTF Exchange / Neg-Risk adapter event set.
func ExchangeContract() Contract { return mustContract(FamilyExchange, exchangeABI) }

// AdapterContract is the UMA CTF adapter event set.
func AdapterContract() Contract { return mustContract(FamilyAdapter, adapterABI) }

// Name returns the family name.
func (c Contract) Name() string { return c.name }

// ABI returns the parsed event set.
func (c Contract) ABI() abi.ABI { return c.abi }

// Topics returns the topic0 filter matching every event of the family.
func (c Contract) Topics() [][]common.Hash {
	ids := make([]common.Hash, 0, len(c.abi.Events))
	for _, ev := range c.abi.Events {
		ids = append(ids, ev.ID)
	}
	return [][]common.Hash{ids}
}
