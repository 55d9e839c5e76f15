package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

const (
	defaultTimeout       = 2 * time.Second
	defaultListTimeout   = 1500 * time.Millisecond
	defaultStreamTimeout = time.Minute

	headerAuthorization = "Authorization"
	headerCategory      = "X-Storage-Category"
	headerAccess        = "X-Storage-Access"
	headerTags          = "X-Storage-Tags"
)

// HTTPClient talks to the external storage service with a server-held
// service credential.
type HTTPClient struct {
	client        *fasthttp.Client
	streamClient  *fasthttp.Client
	baseURL       string
	config        Config
	credentials   CredentialSource
	timeout       time.Duration
	listTimeout   time.Duration
	streamTimeout time.Duration
}

func NewHTTPClient(config Config, credentials CredentialSource) *HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	listTimeout := config.ListTimeout
	if listTimeout <= 0 {
		listTimeout = defaultListTimeout
	}
	streamTimeout := streamTimeoutOf(config)
	return &HTTPClient{
		client: &fasthttp.Client{
			Name:                "castmedia",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		streamClient: &fasthttp.Client{
			Name:                "castmedia",
			ReadTimeout:         streamTimeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
			StreamResponseBody:  true,
		},
		baseURL:       strings.TrimRight(config.BaseURL, "/"),
		config:        config,
		credentials:   credentials,
		timeout:       timeout,
		listTimeout:   listTimeout,
		streamTimeout: streamTimeout,
	}
}

// WithDialer replaces the dialer of both underlying clients.
func (c *HTTPClient) WithDialer(dial fasthttp.DialFunc) *HTTPClient {
	c.client.Dial = dial
	c.streamClient.Dial = dial
	return c
}

func (c *HTTPClient) List(ctx context.Context, bucket, ownerID, folder string) ([]FileRecord, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	query := url.Values{}
	query.Set("owner", ownerID)
	query.Set("path", folder)
	req.SetRequestURI(fmt.Sprintf("%s/buckets/%s/files?%s", c.baseURL, url.PathEscape(bucket), query.Encode()))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	if err := c.do(ctx, c.client, req, resp, c.listTimeout); err != nil {
		return nil, err
	}
	if err := statusError(resp.StatusCode()); err != nil {
		return nil, err
	}

	records, err := Normalize(resp.Body(), bucket)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *HTTPClient) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	ref := ObjectRef{Bucket: in.Bucket, OwnerID: in.OwnerID, Path: in.Path, Name: in.Name}
	req.SetRequestURI(c.objectURL(ref))
	req.Header.SetMethod(fasthttp.MethodPut)
	req.Header.SetContentType(in.ContentType)
	req.Header.Set(headerCategory, in.Metadata.Category)
	req.Header.Set(headerAccess, string(in.Metadata.Access))
	if len(in.Metadata.Tags) > 0 {
		req.Header.Set(headerTags, strings.Join(in.Metadata.Tags, ","))
	}
	size := int(in.Size)
	if size <= 0 {
		size = -1
	}
	req.SetBodyStream(in.Body, size)

	if err := c.do(ctx, c.client, req, resp, c.timeout); err != nil {
		return nil, err
	}
	if err := statusError(resp.StatusCode()); err != nil {
		return nil, err
	}

	var body struct {
		ID        string `json:"id"`
		FileID    string `json:"fileId"`
		URL       string `json:"url"`
		PublicURL string `json:"publicUrl"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	result := &UploadResult{
		ID:     pick(body.ID, body.FileID),
		Bucket: in.Bucket,
		Path:   in.Path,
		Name:   in.Name,
		Size:   in.Size,
	}
	if in.Metadata.Access == AccessPublic {
		result.PublicURL = pick(body.PublicURL, body.URL)
	}
	return result, nil
}

func (c *HTTPClient) Delete(ctx context.Context, fileID string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/files/%s", c.baseURL, url.PathEscape(fileID)))
	req.Header.SetMethod(fasthttp.MethodDelete)

	if err := c.do(ctx, c.client, req, resp, c.timeout); err != nil {
		return err
	}
	return statusError(resp.StatusCode())
}

// Open streams one object. The wait for the response headers is bounded by
// the request timeout and ctx; reading the body may take up to the stream
// timeout. The caller must close the returned body.
func (c *HTTPClient) Open(ctx context.Context, ref ObjectRef) (*Object, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI(c.objectURL(ref))
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.authorize(ctx, req); err != nil {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, err
	}
	req.SetTimeout(c.streamTimeout)

	headerCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.streamClient.Do(req, resp)
	}()

	select {
	case err := <-done:
		fasthttp.ReleaseRequest(req)
		if err != nil {
			fasthttp.ReleaseResponse(resp)
			return nil, fmt.Errorf("storage request failed: %w", err)
		}
	case <-headerCtx.Done():
		go func() {
			if err := <-done; err == nil {
				resp.CloseBodyStream()
			}
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}()
		return nil, fmt.Errorf("storage request failed: %w", headerCtx.Err())
	}

	if resp.StatusCode() == fasthttp.StatusUnauthorized {
		c.credentials.Invalidate()
		resp.CloseBodyStream()
		fasthttp.ReleaseResponse(resp)
		return nil, ErrUnauthorized
	}
	if err := statusError(resp.StatusCode()); err != nil {
		resp.CloseBodyStream()
		fasthttp.ReleaseResponse(resp)
		return nil, err
	}

	return &Object{
		Body:               &responseBody{resp: resp, reader: resp.BodyStream()},
		Size:               int64(resp.Header.ContentLength()),
		ContentType:        string(resp.Header.ContentType()),
		ContentDisposition: string(resp.Header.Peek(fasthttp.HeaderContentDisposition)),
	}, nil
}

func (c *HTTPClient) SignedURL(ctx context.Context, ref ObjectRef, ttl time.Duration) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	query := url.Values{}
	query.Set("key", ref.Key())
	query.Set("owner", ref.OwnerID)
	query.Set("ttl", strconv.Itoa(int(ttl.Seconds())))
	req.SetRequestURI(fmt.Sprintf("%s/buckets/%s/signed-url?%s", c.baseURL, url.PathEscape(ref.Bucket), query.Encode()))
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.do(ctx, c.client, req, resp, c.timeout); err != nil {
		return "", err
	}
	if err := statusError(resp.StatusCode()); err != nil {
		return "", err
	}

	var body struct {
		URL       string `json:"url"`
		SignedURL string `json:"signedUrl"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("failed to decode signed url response: %w", err)
	}
	signed := pick(body.SignedURL, body.URL)
	if signed == "" {
		return "", errors.New("storage returned an empty signed url")
	}
	return signed, nil
}

func (c *HTTPClient) objectURL(ref ObjectRef) string {
	segments := strings.Split(ref.Key(), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	query := url.Values{}
	query.Set("owner", ref.OwnerID)
	return fmt.Sprintf("%s/buckets/%s/objects/%s?%s", c.baseURL, url.PathEscape(ref.Bucket), strings.Join(segments, "/"), query.Encode())
}

// do attaches the service credential and bounds the call by the smaller of
// timeout and the context deadline. A 401 invalidates the cached credential
// so the next call logs in again; the call itself is not retried.
func (c *HTTPClient) do(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error {
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	req.SetTimeout(timeout)

	if err := client.Do(req, resp); err != nil {
		return fmt.Errorf("storage request failed: %w", err)
	}
	if resp.StatusCode() == fasthttp.StatusUnauthorized {
		c.credentials.Invalidate()
		return ErrUnauthorized
	}
	return nil
}

func (c *HTTPClient) authorize(ctx context.Context, req *fasthttp.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	token, err := c.credentials.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain service credential: %w", err)
	}
	req.Header.Set(headerAuthorization, "Bearer "+token)
	return nil
}

func streamTimeoutOf(config Config) time.Duration {
	if config.StreamTimeout > 0 {
		return config.StreamTimeout
	}
	return defaultStreamTimeout
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == fasthttp.StatusNotFound:
		return ErrNotFound
	default:
		return &StatusError{StatusCode: code}
	}
}

type responseBody struct {
	resp   *fasthttp.Response
	reader io.Reader
}

func (b *responseBody) Read(p []byte) (int, error) {
	if b.reader == nil {
		b.reader = bytes.NewReader(b.resp.Body())
	}
	return b.reader.Read(p)
}

func (b *responseBody) Close() error {
	err := b.resp.CloseBodyStream()
	fasthttp.ReleaseResponse(b.resp)
	return err
}
