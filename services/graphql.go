package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultRequestTimeout = 30 * time.Second

type FetchPolicy int

const (
	// CacheFirst answers from the normalized cache when the operation result
	// is present and only goes to the network on a miss.
	CacheFirst FetchPolicy = iota
	NetworkOnly
)

type GraphQLRequest struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

type GraphQLError struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// QueryError - a failed GraphQL round trip. StatusCode is 0 when no HTTP
// response was received.
type QueryError struct {
	Operation  string
	StatusCode int
	Errors     []GraphQLError
	Err        error
}

func (e *QueryError) Error() string {
	switch {
	case len(e.Errors) > 0:
		msgs := make([]string, len(e.Errors))
		for i, gqlErr := range e.Errors {
			msgs[i] = gqlErr.Message
		}
		return fmt.Sprintf("graphql %s: %s", e.Operation, strings.Join(msgs, "; "))
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("graphql %s: status %d: %v", e.Operation, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("graphql %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("graphql %s: status %d", e.Operation, e.StatusCode)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// DataClient is the single handle to the backend query endpoint. It owns the
// normalized cache; callers only read through Query.
//
// Identical operations in flight share one request. The shared request is
// detached from the callers' contexts: a caller that gives up returns
// immediately, while the request still completes and fills the cache.
type DataClient struct {
	endpoint       string
	httpClient     *http.Client
	cache          *NormalizedCache
	log            *zap.Logger
	inflight       singleflight.Group
	RequestTimeout time.Duration
}

func NewDataClient(endpoint string, httpClient *http.Client, cache *NormalizedCache, log *zap.Logger) *DataClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cache == nil {
		cache = NewNormalizedCache(NewMemoryStore(0))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DataClient{
		endpoint:       endpoint,
		httpClient:     httpClient,
		cache:          cache,
		log:            log,
		RequestTimeout: defaultRequestTimeout,
	}
}

func (c *DataClient) Endpoint() string {
	return c.endpoint
}

func (c *DataClient) Cache() *NormalizedCache {
	return c.cache
}

// Query runs req under policy and decodes the data member of the response
// into out.
func (c *DataClient) Query(ctx context.Context, req GraphQLRequest, policy FetchPolicy, out interface{}) (err error) {
	operation := req.OperationName
	if operation == "" {
		operation = "anonymous"
	}
	opKey := OperationKey(req)

	start := time.Now()
	status := "network"
	defer func() {
		if err != nil {
			status = "error"
		}
		RecordQueryOperation(operation, status, time.Since(start))
	}()

	if policy == CacheFirst {
		data, ok, cacheErr := c.cache.Read(ctx, opKey)
		if cacheErr != nil {
			c.log.Warn("cache read failed", zap.String("operation", operation), zap.Error(cacheErr))
		}
		if ok {
			status = "cache"
			return remarshal(data, out)
		}
	}

	// A request started before the last eviction is not joined.
	gen := c.cache.Generation(opKey)
	ch := c.inflight.DoChan(fmt.Sprintf("%s@%d", opKey, gen), func() (interface{}, error) {
		return c.fetch(ctx, operation, opKey, gen, req)
	})
	var raw json.RawMessage
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		raw = res.Val.(json.RawMessage)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &QueryError{Operation: operation, StatusCode: http.StatusOK, Err: fmt.Errorf("failed to decode data: %w", err)}
	}
	return nil
}

// fetch performs the shared network round trip and writes the result to the
// cache, unless the result was evicted while the request was out.
func (c *DataClient) fetch(ctx context.Context, operation, opKey string, gen uint64, req GraphQLRequest) (json.RawMessage, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.RequestTimeout)
	defer cancel()

	raw, err := c.do(fetchCtx, operation, req)
	if err != nil {
		return nil, err
	}
	data, err := decodeJSONValue(raw)
	if err != nil {
		return nil, &QueryError{Operation: operation, StatusCode: http.StatusOK, Err: fmt.Errorf("invalid data: %w", err)}
	}
	if data != nil {
		stored, err := c.cache.Write(fetchCtx, opKey, gen, data)
		if err != nil {
			c.log.Warn("cache write failed", zap.String("operation", operation), zap.Error(err))
		} else if !stored {
			c.log.Debug("stale result not cached", zap.String("operation", operation))
		}
	}
	return raw, nil
}

func (c *DataClient) do(ctx context.Context, operation string, req GraphQLRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &QueryError{Operation: operation, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &QueryError{Operation: operation, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	c.log.Debug("graphql request", zap.String("operation", operation), zap.String("endpoint", c.endpoint))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &QueryError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &QueryError{Operation: operation, StatusCode: resp.StatusCode, Err: err}
	}

	var decoded graphQLResponse
	decodeErr := json.Unmarshal(payload, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		qerr := &QueryError{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", http.StatusText(resp.StatusCode))}
		if decodeErr == nil {
			qerr.Errors = decoded.Errors
		}
		return nil, qerr
	}
	if decodeErr != nil {
		return nil, &QueryError{Operation: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response body: %w", decodeErr)}
	}
	if len(decoded.Errors) > 0 {
		return nil, &QueryError{Operation: operation, StatusCode: resp.StatusCode, Errors: decoded.Errors}
	}
	if len(decoded.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return decoded.Data, nil
}

func decodeJSONValue(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func remarshal(data interface{}, out interface{}) error {
	if out == nil {
		return nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}
