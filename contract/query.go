package contract

import (
	"context"

	"github.com/pkg/errors"
)

// Querier sends a read-only query to a node and returns its response.
type Querier interface {
	QuerySmartContract(ctx context.Context, q *Query) (*QueryResponse, error)
}

// QueryBuilder writes the input of a read-only contract function.
type QueryBuilder struct {
	*Writer
	contractIndex uint32
	inputType     uint16
}

// NewQueryBuilder starts a query of function inputType on contract contractIndex.
func NewQueryBuilder(codec IdentityCodec, contractIndex uint32, inputType uint16) *QueryBuilder {
	return &QueryBuilder{
		Writer:        NewWriter(codec),
		contractIndex: contractIndex,
		inputType:     inputType,
	}
}

// Build returns the query envelope for the current payload.
func (b *QueryBuilder) Build() (*Query, error) {
	if err := b.Err(); err != nil {
		return nil, err
	}
	if b.Len() > maxInputSize {
		return nil, errors.Wrapf(ErrPayload, "payload of %d bytes exceeds %d", b.Len(), maxInputSize)
	}

	return &Query{
		ContractIndex: b.contractIndex,
		InputType:     b.inputType,
		InputSize:     uint16(b.Len()),
		RequestData:   b.Base64(),
	}, nil
}

// Execute builds the query, sends it through q and returns a parser over the
// response payload.
func (b *QueryBuilder) Execute(ctx context.Context, q Querier, opts ...ParserOption) (*ResponseParser, error) {
	query, err := b.Build()
	if err != nil {
		return nil, err
	}

	resp, err := q.QuerySmartContract(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "query contract %d function %d", query.ContractIndex, query.InputType)
	}
	if resp == nil {
		return nil, errors.Wrap(ErrPayload, "empty query response")
	}

	return NewResponseParser(b.codec, resp.ResponseData, opts...)
}
