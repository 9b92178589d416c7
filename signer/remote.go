package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// DefaultRemoteTimeout bounds each call to the remote key service.
const DefaultRemoteTimeout = 10 * time.Second

const (
	derivePath = "/derive"
	signPath   = "/sign"
	healthPath = "/health"
)

// RemoteBackend is a KeyBackend that delegates curve operations to a key
// service over HTTP.
type RemoteBackend struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// RemoteOption configures a RemoteBackend.
type RemoteOption func(*RemoteBackend)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(b *RemoteBackend) {
		if c != nil {
			b.client = c
		}
	}
}

// WithTimeout sets the per-request timeout. A client passed through
// WithHTTPClient is copied, never modified.
func WithTimeout(d time.Duration) RemoteOption {
	return func(b *RemoteBackend) {
		if d > 0 {
			c := *b.client
			c.Timeout = d
			b.client = &c
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) RemoteOption {
	return func(b *RemoteBackend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewRemoteBackend creates a RemoteBackend for the service at endpoint.
func NewRemoteBackend(endpoint, apiKey string, opts ...RemoteOption) (*RemoteBackend, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("endpoint required")
	}

	b := &RemoteBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout:   DefaultRemoteTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// DerivePublicKey implements KeyBackend.
func (b *RemoteBackend) DerivePublicKey(privateKey []byte) ([]byte, error) {
	return b.DerivePublicKeyContext(context.Background(), privateKey)
}

// DerivePublicKeyContext asks the service for the public key of privateKey.
func (b *RemoteBackend) DerivePublicKeyContext(ctx context.Context, privateKey []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, errors.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(privateKey))
	}

	body, err := b.post(ctx, derivePath, map[string]string{
		"private_key_hex": common.Bytes2Hex(privateKey),
	})
	if err != nil {
		return nil, err
	}

	return decodeHexField(body, "public_key_hex", PublicKeySize)
}

// Sign implements KeyBackend.
func (b *RemoteBackend) Sign(privateKey, publicKey, message []byte) ([]byte, error) {
	return b.SignContext(context.Background(), privateKey, publicKey, message)
}

// SignContext asks the service to sign message.
func (b *RemoteBackend) SignContext(ctx context.Context, privateKey, publicKey, message []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, errors.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(privateKey))
	}
	if len(publicKey) != PublicKeySize {
		return nil, errors.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(publicKey))
	}

	body, err := b.post(ctx, signPath, map[string]string{
		"private_key_hex": common.Bytes2Hex(privateKey),
		"public_key_hex":  common.Bytes2Hex(publicKey),
		"message_hex":     common.Bytes2Hex(message),
	})
	if err != nil {
		return nil, err
	}

	return decodeHexField(body, "signature_hex", SignatureSize)
}

// Health returns nil once the service answers its health probe with 200.
func (b *RemoteBackend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+healthPath, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "remote signer unreachable")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("remote signer health http %d", resp.StatusCode)
	}

	return nil
}

func (b *RemoteBackend) post(ctx context.Context, path string, payload map[string]string) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "remote signer %s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read remote signer %s response", path)
	}

	if resp.StatusCode != http.StatusOK {
		b.logger.Warn("remote signer rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", gjson.GetBytes(body, "error").String()),
		)
		return nil, errors.Errorf("remote signer http %d", resp.StatusCode)
	}

	return body, nil
}

func (b *RemoteBackend) setHeaders(req *http.Request) {
	if b.apiKey != "" {
		req.Header.Set("x-api-key", b.apiKey)
	}
}

func decodeHexField(body []byte, field string, size int) ([]byte, error) {
	res := gjson.GetBytes(body, field)
	if !res.Exists() || res.Type != gjson.String {
		return nil, errors.Errorf("remote signer response missing %s", field)
	}

	out, err := hex.DecodeString(strings.TrimPrefix(res.String(), "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "remote signer returned malformed %s", field)
	}
	if len(out) != size {
		return nil, errors.Errorf("invalid %s length %d, expected %d", field, len(out), size)
	}

	return out, nil
}
