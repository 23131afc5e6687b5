package merkle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// flexAmount accepts a JSON string or a JSON number and keeps its literal text
type flexAmount string

func (f *flexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexAmount(s)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*f = flexAmount(n.String())
	return nil
}

type arrayEntry struct {
	Address string     `json:"address"`
	Amount  flexAmount `json:"amount"`
}

// ParseBalanceMap decodes an allocation list in either of the two accepted layouts:
//
//	{"0xabc...": "12", "0xdef...": 3}
//	[{"address": "0xabc...", "amount": "12"}]
//
// Object-form entries are returned sorted by key so validation errors are reproducible.
func ParseBalanceMap(raw []byte) ([]types.AllocationEntry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty balance map")
	}

	switch trimmed[0] {
	case '[':
		var items []arrayEntry
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to parse balance list: %w", err)
		}
		entries := make([]types.AllocationEntry, len(items))
		for i, item := range items {
			entries[i] = types.AllocationEntry{Address: item.Address, Amount: string(item.Amount)}
		}
		return entries, nil

	case '{':
		var items map[string]flexAmount
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to parse balance map: %w", err)
		}
		keys := make([]string, 0, len(items))
		for k := range items {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		entries := make([]types.AllocationEntry, len(keys))
		for i, k := range keys {
			entries[i] = types.AllocationEntry{Address: k, Amount: string(items[k])}
		}
		return entries, nil

	default:
		return nil, fmt.Errorf("balance map must be a JSON object or array")
	}
}
