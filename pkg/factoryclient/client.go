package factoryclient

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a serial trust service on behalf of one factory. All
// upload calls sign the payload with the configured key before sending.
type Client struct {
	BaseURL     string
	FactoryName string
	PrivateKey  *ecdsa.PrivateKey
	HTTPClient  *http.Client
	Now         func() time.Time
}

func New(baseURL, factoryName string, key *ecdsa.PrivateKey) *Client {
	return &Client{
		BaseURL:     baseURL,
		FactoryName: factoryName,
		PrivateKey:  key,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		Now:         time.Now,
	}
}

type RegistrationResult struct {
	RequestID   int64  `json:"request_id"`
	FactoryName string `json:"factory_name"`
	Status      string `json:"status"`
}

type UploadResult struct {
	Status        string `json:"status"`
	BatchID       string `json:"batch_id"`
	Inserted      int    `json:"inserted"`
	Conflicts     int    `json:"conflicts"`
	ChunksPending int    `json:"chunks_pending"`
	Message       string `json:"message"`
}

type QueueStatusResult struct {
	FactoryID      string `json:"factory_id"`
	PendingUploads int    `json:"pending_uploads"`
	FailedUploads  int    `json:"failed_uploads"`
}

type VerifyResult struct {
	Status         string `json:"status"`
	SerialNumber   string `json:"serial_number"`
	ProductionDate string `json:"production_date"`
	Provenance     string `json:"provenance"`
}

type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Register submits the factory public key for approval. It does not sign
// anything; the request sits pending until an operator decides it.
func (c *Client) Register(ctx context.Context, publicKeyBase64 string) (*RegistrationResult, error) {
	body, err := json.Marshal(map[string]string{
		"factory_name": c.FactoryName,
		"public_key":   publicKeyBase64,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/register_public_key", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	out := &RegistrationResult{}
	if err := c.do(req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadSerials sends a single CSV payload to /add_serials.
func (c *Client) UploadSerials(ctx context.Context, payload []byte) (*UploadResult, error) {
	return c.upload(ctx, "/add_serials", payload, nil)
}

// UploadBatch sends a whole batch in one request under the given batch id.
func (c *Client) UploadBatch(ctx context.Context, batchID string, testRunCount int, payload []byte) (*UploadResult, error) {
	headers := map[string]string{
		"X-Batch-ID":       batchID,
		"X-Test-Run-Count": strconv.Itoa(testRunCount),
	}
	return c.upload(ctx, "/add_batch_serials", payload, headers)
}

// UploadChunk sends one chunk of a multi-chunk batch. The service holds
// the batch open until every index in [0, totalChunks) has arrived.
func (c *Client) UploadChunk(ctx context.Context, batchID string, chunkIndex, totalChunks, testRunCount int, payload []byte) (*UploadResult, error) {
	headers := map[string]string{
		"X-Batch-ID":       batchID,
		"X-Chunk-Index":    strconv.Itoa(chunkIndex),
		"X-Total-Chunks":   strconv.Itoa(totalChunks),
		"X-Test-Run-Count": strconv.Itoa(testRunCount),
	}
	return c.upload(ctx, "/add_chunk_serials", payload, headers)
}

func (c *Client) upload(ctx context.Context, path string, payload []byte, headers map[string]string) (*UploadResult, error) {
	if c.PrivateKey == nil {
		return nil, fmt.Errorf("no private key configured")
	}
	timestamp := c.Now().Unix()
	signature, err := SignPayload(c.PrivateKey, timestamp, payload)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "serials.csv")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Signature", signature)
	req.Header.Set("X-Factory-ID", c.FactoryName)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	out := &UploadResult{}
	if err := c.do(req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueueStatus reports pending and failed upload counts for the factory.
func (c *Client) QueueStatus(ctx context.Context) (*QueueStatusResult, error) {
	u := c.BaseURL + "/queue_status?factory=" + url.QueryEscape(c.FactoryName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	out := &QueueStatusResult{}
	if err := c.do(req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RetryFailed asks the service to replay failed chunks. A non-empty
// batchID restricts the retry to one batch.
func (c *Client) RetryFailed(ctx context.Context, batchID string) error {
	body, err := json.Marshal(map[string]string{
		"factory_name": c.FactoryName,
		"batch_id":     batchID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/retry_failed", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// VerifySerial checks a single serial number against the service.
func (c *Client) VerifySerial(ctx context.Context, serial string) (*VerifyResult, error) {
	u := c.BaseURL + "/verify?sn=" + url.QueryEscape(serial)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	out := &VerifyResult{}
	if err := c.do(req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var se serverError
		if json.Unmarshal(data, &se) == nil && se.Code != "" {
			return fmt.Errorf("%s: %s", se.Code, se.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
