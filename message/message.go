// Package message defines the contract between the response builder and
// a gRPC reply message's wire codec. The codec itself — generated or
// hand-written protobuf marshal/unmarshal — is an external, consumed
// contract; this package only names the shape the builder depends on.
package message

// Encoder is fulfilled by any reply type the response builder can
// serialize: append its encoded bytes to dst and return the result,
// mirroring the teacher's and the broader pack's append-style codec
// methods (avoids an intermediate allocation per reply).
type Encoder interface {
	MarshalAppend(dst []byte) ([]byte, error)
}

// Decoder is fulfilled by any request type a service's Handle
// implementation decodes the DATA payload into.
type Decoder interface {
	Unmarshal(data []byte) error
}
