// Package abi implements the host side of the guest/host wire protocol: the
// packed pointer+length calling convention and the MessagePack encoding used
// for every value that crosses the WASM boundary.
package abi

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/capgate/capgate/domain/errors"
)

// Pack combines a guest pointer and length into the single i64 both the
// plugin_manifest and plugin_execute exports return: the upper 32 bits hold
// the pointer, the lower 32 bits hold the length.
func Pack(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// Unpack splits a packed i64 back into its pointer and length halves.
func Unpack(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)
	length = uint32(packed & 0xFFFFFFFF)
	return ptr, length
}

// ReadPacked reads the bytes a packed pointer+length describes out of a
// guest module's linear memory, bounds-checking against the module's current
// memory size before copying.
func ReadPacked(mem api.Memory, packed uint64) ([]byte, error) {
	ptr, length := Unpack(packed)
	if ptr == 0 && length == 0 {
		return nil, nil
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return nil, &errors.LoadError{
			Stage: "memory_access",
			Err:   fmt.Errorf("read of %d bytes at offset %d exceeds guest memory (size %d)", length, ptr, mem.Size()),
		}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WritePacked allocates length bytes in the guest via its exported allocate
// function and writes data into them, returning the packed pointer+length
// the guest can hand back to the host (or the host can pass to a guest
// export expecting an argument buffer).
func WritePacked(ctx context.Context, allocate api.Function, mem api.Memory, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, &errors.LoadError{Stage: "function_call", Err: fmt.Errorf("allocate: %w", err)}
	}
	if len(results) == 0 {
		return 0, &errors.LoadError{Stage: "function_call", Err: fmt.Errorf("allocate returned no results")}
	}
	ptr := uint32(results[0])
	if !mem.Write(ptr, data) {
		return 0, &errors.LoadError{Stage: "memory_access", Err: fmt.Errorf("write of %d bytes at offset %d exceeds guest memory", len(data), ptr)}
	}
	return Pack(ptr, uint32(len(data))), nil
}

// Marshal encodes v using the self-describing MessagePack wire format every
// ABI value (manifests, execute arguments, execute results) uses.
func Marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, &errors.LoadError{Stage: "deserialize", Err: err}
	}
	return data, nil
}

// Unmarshal decodes data encoded by Marshal into v.
func Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return &errors.LoadError{Stage: "deserialize", Err: err}
	}
	return nil
}
