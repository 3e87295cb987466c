// Package lootboxgrpc serves and consumes the lootbox Service over gRPC.
//
// Messages are the request, result and summary structs of the types
// package, encoded with their cramberry field tags; wire.go adds the
// few argument wrappers the query methods need. Engine errors travel as
// status errors carrying an ErrorInfo in the "lootbox" domain and are
// decoded back into *lootbox.Error by the Client.
//
// Mint and Unpack act for the Caller named in the request. A server
// built with WithVerifier replaces that field with the account of a
// verified bearer token; without one the listener must be loopback-only
// because any peer can claim any caller.
package lootboxgrpc

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"google.golang.org/grpc/encoding"
)

const codecName = "cramberry"

// CramberryCodec is the gRPC codec for lootbox messages. Clients force
// it on every call, so no content-subtype negotiation happens.
type CramberryCodec struct{}

func (CramberryCodec) Marshal(v any) ([]byte, error) {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("lootbox codec: encode %T: %w", v, err)
	}
	return data, nil
}

func (CramberryCodec) Unmarshal(data []byte, v any) error {
	if err := cramberry.Unmarshal(data, v); err != nil {
		return fmt.Errorf("lootbox codec: decode %T: %w", v, err)
	}
	return nil
}

func (CramberryCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(CramberryCodec{})
}
