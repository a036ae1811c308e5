// Package clob wraps the Polymarket CLOB API for the staking engine: session
// credential derivation at startup, open-order lookup, and buy submission.
//
// Reference: https://docs.polymarket.com/
// Python client: https://github.com/Polymarket/py-clob-client
package clob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Options configure a CLOB client
type Options struct {
	BaseURL          string
	WalletPrivateKey string
	SignerAddress    string
	FunderAddress    string
	SignatureType    int // 0=EOA, 1=Magic/Email, 2=Proxy
	DryRun           bool
}

// apiCreds are the derived session credentials
type apiCreds struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Client talks to the CLOB order API
type Client struct {
	baseURL       string
	privateKey    *ecdsa.PrivateKey
	address       common.Address // signing address
	funderAddress common.Address // address that holds funds
	signatureType int
	dryRun        bool

	apiKey     string
	apiSecret  string
	passphrase string

	httpClient *http.Client
}

// New creates a CLOB client. Credentials are derived later by Init.
func New(opts Options) (*Client, error) {
	c := &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		signatureType: opts.SignatureType,
		dryRun:        opts.DryRun,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
	if c.baseURL == "" {
		c.baseURL = "https://clob.polymarket.com"
	}

	if opts.SignerAddress != "" {
		c.address = common.HexToAddress(opts.SignerAddress)
	}
	if opts.FunderAddress != "" {
		c.funderAddress = common.HexToAddress(opts.FunderAddress)
	}

	key := opts.WalletPrivateKey
	if key == "" {
		if opts.DryRun {
			return c, nil
		}
		return nil, fmt.Errorf("wallet private key required (add WALLET_PRIVATE_KEY to .env)")
	}
	key = strings.TrimPrefix(key, "0x")

	pk, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	c.privateKey = pk
	c.address = crypto.PubkeyToAddress(pk.PublicKey)
	if c.funderAddress == (common.Address{}) {
		c.funderAddress = c.address
	}

	log.Info().
		Str("signer", c.address.Hex()).
		Str("funder", c.funderAddress.Hex()).
		Int("sig_type", c.signatureType).
		Msg("Wallet loaded")

	return c, nil
}

// Init derives the session API credentials from the wallet. Failure here is
// fatal for the controller: it refuses to start without credentials.
func (c *Client) Init(ctx context.Context) error {
	if c.dryRun && c.privateKey == nil {
		log.Info().Msg("🧪 Dry run without wallet, skipping credential derivation")
		return nil
	}

	creds, err := c.deriveCreds(ctx)
	if err != nil {
		return fmt.Errorf("credential derivation failed: %w", err)
	}
	c.apiKey = creds.ApiKey
	c.apiSecret = creds.Secret
	c.passphrase = creds.Passphrase

	log.Info().Str("api_key", maskKey(creds.ApiKey)).Msg("API credentials derived")
	return nil
}

// HasOpenOrder reports whether any open order exists for the given condition
func (c *Client) HasOpenOrder(ctx context.Context, conditionID string) (bool, error) {
	if c.apiKey == "" {
		// No session: nothing could have been submitted outside this process
		return false, nil
	}

	endpoint := "/data/orders"
	url := fmt.Sprintf("%s%s?market=%s", c.baseURL, endpoint, conditionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	c.signRequest(req, http.MethodGet, endpoint, nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("open order lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("open order lookup: API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("open order lookup: parse error: %w", err)
	}

	return len(result.Data) > 0, nil
}

// SubmitBuyOrder submits a buy for stake USD worth of the token at the given
// price. Returns the order id on success.
func (c *Client) SubmitBuyOrder(ctx context.Context, tokenID string, price, stake decimal.Decimal) (string, error) {
	if price.IsZero() {
		return "", fmt.Errorf("refusing zero-price order for token %s", shortID(tokenID))
	}

	// Stake is in USD; the CLOB wants a share size at a tick-aligned price
	tick := decimal.NewFromFloat(0.01)
	price = price.Div(tick).Floor().Mul(tick)
	if price.LessThan(tick) {
		price = tick
	}
	size := stake.Div(price).RoundDown(2)

	if c.dryRun {
		log.Info().
			Str("token", shortID(tokenID)).
			Str("price", price.String()).
			Str("stake", stake.String()).
			Str("size", size.String()).
			Msg("🧪 DRY RUN: would submit buy order")
		return "dry-" + strconv.FormatInt(time.Now().UnixNano(), 10), nil
	}
	if c.apiKey == "" {
		return "", fmt.Errorf("no API credentials, call Init first")
	}

	payload := map[string]interface{}{
		"tokenID": tokenID,
		"price":   price.String(),
		"size":    size.String(),
		"side":    "BUY",
		"type":    "FOK",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.signRequest(req, http.MethodPost, "/order", body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var orderResp struct {
		OrderID   string `json:"orderID"`
		Status    string `json:"status"`
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return "", fmt.Errorf("order response parse error: %w, body: %s", err, string(respBody))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("order failed: %s - %s", orderResp.ErrorCode, orderResp.Message)
	}

	log.Info().
		Str("order_id", orderResp.OrderID).
		Str("status", orderResp.Status).
		Str("token", shortID(tokenID)).
		Msg("✅ Order submitted")

	return orderResp.OrderID, nil
}

// signRequest adds the L2 HMAC authentication headers.
// Message format matches py-clob-client: timestamp + method + path + body.
func (c *Client) signRequest(req *http.Request, method, path string, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	message := timestamp + method + path
	if len(body) > 0 {
		message += string(body)
	}

	secretBytes, err := base64.URLEncoding.DecodeString(c.apiSecret)
	if err != nil {
		padded := c.apiSecret
		if len(padded)%4 != 0 {
			padded += strings.Repeat("=", 4-len(padded)%4)
		}
		if secretBytes, err = base64.URLEncoding.DecodeString(padded); err != nil {
			secretBytes, _ = base64.StdEncoding.DecodeString(c.apiSecret)
		}
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(message))
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	if c.address != (common.Address{}) {
		req.Header.Set("POLY_ADDRESS", c.address.Hex())
	}
}

// deriveCreds asks the CLOB for session credentials, creating them on first use
func (c *Client) deriveCreds(ctx context.Context) (*apiCreds, error) {
	if c.privateKey == nil {
		return nil, fmt.Errorf("wallet private key required")
	}

	timestamp := time.Now().Unix()
	nonce := int64(0)

	signature, err := c.signAuthMessage(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("auth message signing failed: %w", err)
	}

	polyAddress := c.funderAddress
	if polyAddress == (common.Address{}) {
		polyAddress = c.address
	}
	headers := map[string]string{
		"POLY_ADDRESS":   polyAddress.Hex(),
		"POLY_SIGNATURE": signature,
		"POLY_TIMESTAMP": strconv.FormatInt(timestamp, 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}

	// Existing credentials first, create on 4xx
	if creds, err := c.credsRequest(ctx, http.MethodGet, "/auth/derive-api-key", headers); err == nil {
		return creds, nil
	}
	return c.credsRequest(ctx, http.MethodPost, "/auth/api-key", headers)
}

func (c *Client) credsRequest(ctx context.Context, method, endpoint string, headers map[string]string) (*apiCreds, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credentials request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var creds apiCreds
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("credentials parse error: %w", err)
	}
	return &creds, nil
}

// signAuthMessage signs the CLOB auth attestation using EIP-712.
// Domain: {name: "ClobAuthDomain", version: "1", chainId: 137}
func (c *Client) signAuthMessage(timestamp, nonce int64) (string, error) {
	domainTypeHash := crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	nameHash := crypto.Keccak256Hash([]byte("ClobAuthDomain"))
	versionHash := crypto.Keccak256Hash([]byte("1"))
	chainID := big.NewInt(137) // Polygon

	domainSeparator := crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		nameHash.Bytes(),
		versionHash.Bytes(),
		common.LeftPadBytes(chainID.Bytes(), 32),
	)

	authTypeHash := crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))

	authAddress := c.funderAddress
	if authAddress == (common.Address{}) {
		authAddress = c.address
	}

	timestampStr := strconv.FormatInt(timestamp, 10)
	attestation := "This message attests that I control the given wallet"

	structHash := crypto.Keccak256Hash(
		authTypeHash.Bytes(),
		common.LeftPadBytes(authAddress.Bytes(), 32),
		crypto.Keccak256Hash([]byte(timestampStr)).Bytes(),
		common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32),
		crypto.Keccak256Hash([]byte(attestation)).Bytes(),
	)

	rawData := append([]byte{0x19, 0x01}, domainSeparator.Bytes()...)
	rawData = append(rawData, structHash.Bytes()...)
	hash := crypto.Keccak256Hash(rawData)

	sig, err := crypto.Sign(hash.Bytes(), c.privateKey)
	if err != nil {
		return "", err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func maskKey(k string) string {
	if len(k) <= 8 {
		return "****"
	}
	return k[:8] + "..."
}

func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
