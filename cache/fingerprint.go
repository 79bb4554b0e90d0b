package cache

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Fingerprint derives a deterministic cache key from an operation name, its
// positional arguments and its keyed arguments. Keyed arguments are encoded
// in sorted key order so insertion order never changes the result. The key
// is an identity, not a security token: the hash is fast, not cryptographic.
func Fingerprint(name string, args []any, kwargs map[string]any) string {
	digest := xxhash.New()
	enc := msgpack.NewEncoder(digest)
	enc.SetSortMapKeys(true)

	// Encoder writes into the hash; none of these can fail on an
	// in-memory writer with plain values, but fall back to a string
	// rendering if one somehow does.
	if err := encodeIdentity(enc, name, args, kwargs); err != nil {
		digest.Reset()
		_, _ = digest.WriteString(fmt.Sprintf("%s|%v|%v", name, args, kwargs))
	}
	return fmt.Sprintf("%016x", digest.Sum64())
}

func encodeIdentity(enc *msgpack.Encoder, name string, args []any, kwargs map[string]any) error {
	if err := enc.EncodeString(name); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(args)); err != nil {
		return err
	}
	for _, arg := range args {
		if err := enc.Encode(arg); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := enc.EncodeArrayLen(len(keys) * 2); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.Encode(kwargs[k]); err != nil {
			return err
		}
	}
	return nil
}
