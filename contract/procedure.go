package contract

import (
	"context"
	"encoding/base64"
	"encoding/binary"

	"github.com/pkg/errors"
)

// maxInputSize is the largest payload a transaction can carry.
const maxInputSize = 1024

// ProcedureBuilder writes the input of a state-changing contract procedure.
// Procedures only run inside signed transactions, so Execute always fails.
type ProcedureBuilder struct {
	*Writer
	contractIndex  uint32
	procedureIndex uint16
}

// NewProcedureBuilder starts a call of procedureIndex on contract contractIndex.
func NewProcedureBuilder(codec IdentityCodec, contractIndex uint32, procedureIndex uint16) *ProcedureBuilder {
	return &ProcedureBuilder{
		Writer:         NewWriter(codec),
		contractIndex:  contractIndex,
		procedureIndex: procedureIndex,
	}
}

// Execute rejects read-only submission of a procedure.
func (b *ProcedureBuilder) Execute(context.Context, Querier) (*ResponseParser, error) {
	return nil, errors.Wrap(ErrPayload, "procedures are executed via signed transactions, not read-only queries")
}

// ProcedureCall is an encoded procedure invocation.
type ProcedureCall struct {
	ContractIndex  uint32 `json:"contractIndex"`
	ProcedureIndex uint16 `json:"procedureIndex"`
	PayloadHex     string `json:"payloadHex"`
	PayloadBase64  string `json:"payloadBase64"`
	InputSize      uint16 `json:"inputSize"`
}

// Payload decodes PayloadBase64.
func (c *ProcedureCall) Payload() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(c.PayloadBase64)
	if err != nil {
		return nil, errors.Wrap(ErrPayload, err.Error())
	}
	return b, nil
}

// ToProcedureCall returns the call for the current payload.
func (b *ProcedureBuilder) ToProcedureCall() (*ProcedureCall, error) {
	if err := b.Err(); err != nil {
		return nil, err
	}
	if b.Len() > maxInputSize {
		return nil, errors.Wrapf(ErrPayload, "payload of %d bytes exceeds %d", b.Len(), maxInputSize)
	}

	return &ProcedureCall{
		ContractIndex:  b.contractIndex,
		ProcedureIndex: b.procedureIndex,
		PayloadHex:     b.Hex(),
		PayloadBase64:  b.Base64(),
		InputSize:      uint16(b.Len()),
	}, nil
}

// EncodeFunc writes params into a fresh builder.
type EncodeFunc[P any] func(b *ProcedureBuilder, params P) error

// Procedure is a reusable, parameterized procedure definition.
type Procedure[P any] struct {
	codec          IdentityCodec
	contractIndex  uint32
	procedureIndex uint16
	encode         EncodeFunc[P]
}

// DefineProcedure returns a Procedure whose Build encodes params with encode.
func DefineProcedure[P any](codec IdentityCodec, contractIndex uint32, procedureIndex uint16, encode EncodeFunc[P]) *Procedure[P] {
	return &Procedure[P]{
		codec:          codec,
		contractIndex:  contractIndex,
		procedureIndex: procedureIndex,
		encode:         encode,
	}
}

// Build encodes params into a new call. Each call gets its own builder.
func (p *Procedure[P]) Build(params P) (*ProcedureCall, error) {
	b := NewProcedureBuilder(p.codec, p.contractIndex, p.procedureIndex)
	if p.encode != nil {
		if err := p.encode(b, params); err != nil {
			return nil, err
		}
	}
	return b.ToProcedureCall()
}

// TransactionOverrides supplies the transfer fields of a procedure
// transaction. An empty To targets the contract's own identity.
type TransactionOverrides struct {
	From   string
	To     string
	Amount int64
}

// TransactionRequest is a transport-agnostic description of a transaction
// carrying a procedure call.
type TransactionRequest struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Amount        int64  `json:"amount"`
	ContractIndex uint32 `json:"contractIndex"`
	InputType     uint16 `json:"inputType"`
	InputSize     uint16 `json:"inputSize"`
	Payload       string `json:"payload"`
}

// PayloadBytes decodes Payload.
func (r *TransactionRequest) PayloadBytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(r.Payload)
	if err != nil {
		return nil, errors.Wrap(ErrPayload, err.Error())
	}
	return b, nil
}

// ProcedureCallToTransaction maps call and overrides to a transaction request.
// The procedure index becomes the input type and the payload the input.
func ProcedureCallToTransaction(call *ProcedureCall, overrides TransactionOverrides) *TransactionRequest {
	return &TransactionRequest{
		From:          overrides.From,
		To:            overrides.To,
		Amount:        overrides.Amount,
		ContractIndex: call.ContractIndex,
		InputType:     call.ProcedureIndex,
		InputSize:     call.InputSize,
		Payload:       call.PayloadBase64,
	}
}

// ContractIdentity returns the identity of contract index: its index as the
// first little-endian word of an otherwise zero key.
func ContractIdentity(codec IdentityCodec, index uint32) (string, error) {
	pub := make([]byte, 32)
	binary.LittleEndian.PutUint64(pub, uint64(index))
	return codec.Encode(pub)
}
