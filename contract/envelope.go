package contract

import (
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Query is the request envelope of a read-only contract call.
type Query struct {
	ContractIndex uint32 `json:"contractIndex"`
	InputType     uint16 `json:"inputType"`
	InputSize     uint16 `json:"inputSize"`
	RequestData   string `json:"requestData"`
}

// Payload decodes RequestData.
func (q *Query) Payload() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(q.RequestData)
	if err != nil {
		return nil, errors.Wrap(ErrPayload, err.Error())
	}
	return b, nil
}

// QueryResponse is the response envelope. ResponseData is hex or base64.
type QueryResponse struct {
	ResponseData string `json:"responseData"`
}

//go:embed schema/query.json
var querySchemaJSON []byte

//go:embed schema/query_response.json
var responseSchemaJSON []byte

var (
	querySchema    *gojsonschema.Schema
	responseSchema *gojsonschema.Schema
	loadOnce       sync.Once
	errLoad        error
)

func loadSchemas() error {
	loadOnce.Do(func() {
		querySchema, errLoad = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(querySchemaJSON))
		if errLoad != nil {
			errLoad = errors.Wrap(errLoad, "failed to load query schema")
			return
		}
		responseSchema, errLoad = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(responseSchemaJSON))
		if errLoad != nil {
			errLoad = errors.Wrap(errLoad, "failed to load query response schema")
		}
	})
	return errLoad
}

func validate(schema *gojsonschema.Schema, doc []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.Wrap(ErrPayload, err.Error())
	}
	if !result.Valid() {
		return errors.Wrapf(ErrPayload, "envelope validation failed: %v", result.Errors())
	}
	return nil
}

// ParseQuery validates and decodes a query envelope. InputSize must equal the
// decoded payload length.
func ParseQuery(doc []byte) (*Query, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	if err := validate(querySchema, doc); err != nil {
		return nil, err
	}

	var q Query
	if err := json.Unmarshal(doc, &q); err != nil {
		return nil, errors.Wrap(ErrPayload, err.Error())
	}

	payload, err := q.Payload()
	if err != nil {
		return nil, err
	}
	if len(payload) != int(q.InputSize) {
		return nil, errors.Wrapf(ErrPayload, "inputSize %d does not match payload length %d", q.InputSize, len(payload))
	}

	return &q, nil
}

// ParseQueryResponse validates and decodes a response envelope.
func ParseQueryResponse(doc []byte) (*QueryResponse, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	if err := validate(responseSchema, doc); err != nil {
		return nil, err
	}

	var r QueryResponse
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, errors.Wrap(ErrPayload, err.Error())
	}
	return &r, nil
}
