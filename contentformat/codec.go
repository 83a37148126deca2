// Package contentformat transcodes CoAP payload bodies between JSON
// (application/json, Content-Format 50) and CBOR (application/cbor,
// Content-Format 60), so a resource handler can be authored once against
// JSON and served in whichever format the Accept option requests.
//
// CBOR's integer map keys are exploited to shrink payloads for the
// bandwidth-constrained links this CORE targets: a Codec carries a
// string-key -> small-int mapping so `{"temperature": 21.5}` on the wire
// becomes a few bytes of integer-keyed CBOR instead of repeating the field
// name in every notification.
package contentformat

import (
	"fmt"
	"io"
	"reflect"
	"sort"

	cbor "github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
)

var std = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec converts a single JSON object to/from a single CBOR object,
// optionally remapping field names to short integer keys on the CBOR side.
type Codec struct {
	keys      map[string]int
	enumKeys  map[int]string
	canonical bool
}

// New builds a Codec. keys maps JSON field names to the integer CBOR keys
// they should be written as; fields with no entry are left as string keys.
// If canonical, JSONToCBOR emits RFC 7049 §3.9 canonical CBOR (sorted map
// keys, shortest-form integers) for deterministic output.
func New(keys map[string]int, canonical bool) (*Codec, error) {
	c := &Codec{keys: keys, enumKeys: make(map[int]string), canonical: canonical}
	for k, v := range keys {
		if _, ok := c.enumKeys[v]; ok {
			return nil, fmt.Errorf("contentformat: duplicate integer key %d (%s)", v, k)
		}
		c.enumKeys[v] = k
	}
	return c, nil
}

// CBORToJSON converts a single CBOR object into a single JSON object,
// restoring any integer keys this Codec knows about to their field names.
func (c *Codec) CBORToJSON(input io.Reader) ([]byte, error) {
	var intermediate interface{}
	if err := cbor.NewDecoder(input).Decode(&intermediate); err != nil {
		return nil, fmt.Errorf("contentformat: decoding cbor: %w", err)
	}
	intermediate = cborToJSONValue(intermediate, c.enumKeys)
	return std.Marshal(intermediate)
}

// JSONToCBOR converts a single JSON object into a single CBOR object,
// remapping field names this Codec knows about to their integer keys.
func (c *Codec) JSONToCBOR(input io.Reader) ([]byte, error) {
	var intermediate interface{}
	if err := std.NewDecoder(input).Decode(&intermediate); err != nil {
		return nil, fmt.Errorf("contentformat: decoding json: %w", err)
	}
	intermediate = jsonToCBORValue(intermediate, c.keys)
	if c.canonical {
		enc, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			return nil, fmt.Errorf("contentformat: building canonical encoder: %w", err)
		}
		return enc.Marshal(intermediate)
	}
	return cbor.Marshal(intermediate)
}

// jsonToCBORValue walks a decoded-JSON tree (bool, float64, string,
// []interface{}, map[string]interface{}, nil) and remaps map keys present
// in lookup to their integer form, so the CBOR encoder writes them as
// small integers instead of repeated strings.
func jsonToCBORValue(v interface{}, lookup map[string]int) interface{} {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case []interface{}:
		for i, el := range val {
			val[i] = jsonToCBORValue(el, lookup)
		}
		return val
	case map[string]interface{}:
		result := make(map[interface{}]interface{}, len(val))
		for k, el := range val {
			if n, ok := lookup[k]; ok {
				result[n] = jsonToCBORValue(el, lookup)
			} else {
				result[k] = jsonToCBORValue(el, lookup)
			}
		}
		return result
	case bool, float64, string:
		return val
	default:
		panic("contentformat: unexpected decoded-JSON kind: " + reflect.TypeOf(v).String())
	}
}

// cborToJSONValue is the inverse of jsonToCBORValue: it walks a
// decoded-CBOR tree and resolves any integer map keys this Codec knows
// about back to their field names, dropping keys of any other type JSON
// cannot represent.
func cborToJSONValue(v interface{}, lookup map[int]string) interface{} {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case []interface{}:
		for i, el := range val {
			val[i] = cborToJSONValue(el, lookup)
		}
		return val
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(val))
		var intKeys []int
		intVals := make(map[int]interface{})
		var strKeys []string
		for k, el := range val {
			if ks, ok := k.(string); ok {
				strKeys = append(strKeys, ks)
				continue
			}
			if ki, ok := asInt(k); ok {
				intKeys = append(intKeys, ki)
				intVals[ki] = el
			}
		}
		sort.Ints(intKeys)
		sort.Strings(strKeys)
		for _, ik := range intKeys {
			if name, ok := lookup[ik]; ok {
				result[name] = cborToJSONValue(intVals[ik], lookup)
			} else {
				result[fmt.Sprintf("%d", ik)] = cborToJSONValue(intVals[ik], lookup)
			}
		}
		for _, sk := range strKeys {
			result[sk] = cborToJSONValue(val[sk], lookup)
		}
		return result
	default:
		return val
	}
}

func asInt(k interface{}) (int, bool) {
	switch v := k.(type) {
	case uint64:
		return int(v), true
	case int64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
