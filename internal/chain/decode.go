package chain

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// ErrUnknownEvent is returned for logs whose topic0 is not in the family ABI.
var ErrUnknownEvent = errors.New("chain: unknown event")

// Decode turns a raw log into a RawEvent. Indexed arguments come from the
// topics and the rest from the data section. Values are normalized so Args
// survives a JSON round trip unchanged.
func Decode(c Contract, log types.Log) (domain.RawEvent, error) {
	if len(log.Topics) == 0 {
		return domain.RawEvent{}, fmt.Errorf("%w: log without topics", ErrUnknownEvent)
	}
	event, err := c.abi.EventByID(log.Topics[0])
	if err != nil {
		return domain.RawEvent{}, fmt.Errorf("%w: %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	raw := make(map[string]any, len(event.Inputs))
	var indexed abi.Arguments
	for _, in := range event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(raw, indexed, log.Topics[1:]); err != nil {
		return domain.RawEvent{}, fmt.Errorf("chain: decode %s topics: %w", event.Name, err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(raw, log.Data); err != nil {
		return domain.RawEvent{}, fmt.Errorf("chain: decode %s data: %w", event.Name, err)
	}

	args := make(map[string]any, len(raw))
	for k, v := range raw {
		args[k] = normalize(v)
	}

	return domain.RawEvent{
		TransactionHash: log.TxHash.Hex(),
		BlockNumber:     log.BlockNumber,
		LogIndex:        log.Index,
		ContractAddress: log.Address.Hex(),
		EventName:       event.Name,
		Args:            args,
	}, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *big.Int:
		if t == nil {
			return "0"
		}
		return t.String()
	case common.Address:
		return t.Hex()
	case common.Hash:
		return t.Hex()
	case [32]byte:
		return hexutil.Encode(t[:])
	case []byte:
		return hexutil.Encode(t)
	case string, bool:
		return t
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprint(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return hexutil.Encode(b)
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}
