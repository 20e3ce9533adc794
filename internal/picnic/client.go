package picnic

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/domain"
)

const (
	defaultAPIVersion = "15"
	defaultTimeout    = 30 * time.Second
	authHeader        = "x-picnic-auth"
	userAgent         = "okhttp/3.9.0"
	maxErrorBody      = 512
)

var _ domain.PicnicClient = (*Client)(nil)

// Options задает параметры клиента.
type Options struct {
	Logger     *log.Entry
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

// Option настраивает Client.
type Option func(*Options)

// WithLogger задает logger клиента.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithBaseURL переопределяет адрес API (тесты, прокси).
func WithBaseURL(baseURL string) Option {
	return func(opts *Options) {
		opts.BaseURL = baseURL
	}
}

// WithAPIVersion задает версию API в пути.
func WithAPIVersion(version string) Option {
	return func(opts *Options) {
		opts.APIVersion = version
	}
}

// WithHTTPClient задает собственный http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *Options) {
		opts.HTTPClient = client
	}
}

// Client — HTTP-клиент API Picnic. Логинится лениво при первом запросе
// и сбрасывает токен, если Picnic его отверг.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *log.Entry

	mu      sync.Mutex
	authKey string
}

// NewClient создает клиент для аккаунта в указанной стране.
func NewClient(username, password, countryCode string, options ...Option) *Client {
	opts := Options{APIVersion: defaultAPIVersion}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "picnic-client")
	}
	if opts.APIVersion == "" {
		opts.APIVersion = defaultAPIVersion
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL(countryCode, opts.APIVersion)
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     opts.HTTPClient,
		logger:   logger,
	}
}

// DefaultBaseURL строит адрес storefront API для страны.
func DefaultBaseURL(countryCode, apiVersion string) string {
	return fmt.Sprintf("https://storefront-prod.%s.picnicinternational.com/api/%s",
		strings.ToLower(countryCode), apiVersion)
}

// GetCart возвращает корзину и доступные слоты доставки.
func (c *Client) GetCart(ctx context.Context) (domain.Cart, error) {
	var payload cartPayload
	if err := c.call(ctx, http.MethodGet, "/cart", nil, &payload); err != nil {
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	cart, err := payload.toDomain()
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// GetDeliveries возвращает все доставки аккаунта, самая свежая первой.
func (c *Client) GetDeliveries(ctx context.Context) ([]domain.Delivery, error) {
	return c.deliveries(ctx, []string{})
}

// GetCurrentDeliveries возвращает только незавершённые доставки.
func (c *Client) GetCurrentDeliveries(ctx context.Context) ([]domain.Delivery, error) {
	return c.deliveries(ctx, []string{string(domain.DeliveryStatusCurrent)})
}

func (c *Client) deliveries(ctx context.Context, filter []string) ([]domain.Delivery, error) {
	var payload []deliveryPayload
	if err := c.call(ctx, http.MethodPost, "/deliveries", filter, &payload); err != nil {
		return nil, fmt.Errorf("get deliveries: %w", err)
	}

	out := make([]domain.Delivery, 0, len(payload))
	for i := range payload {
		delivery, err := payload[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("get deliveries: %w", err)
		}
		out = append(out, delivery)
	}
	return out, nil
}

// Login выполняет аутентификацию и сохраняет токен.
func (c *Client) Login(ctx context.Context) error {
	body := loginRequest{
		Key:      c.username,
		Secret:   passwordSecret(c.password),
		ClientID: 1,
	}

	resp, err := c.send(ctx, http.MethodPost, "/user/login", body, "")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer drain(resp.Body)

	if err := statusError(resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	token := resp.Header.Get(authHeader)
	if token == "" {
		return fmt.Errorf("login: %w: no auth token in response", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.authKey = token
	c.mu.Unlock()

	c.logger.WithField("user", c.username).Info("logged in to picnic")
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authKey
}

func (c *Client) resetToken(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authKey == stale {
		c.authKey = ""
	}
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	token := c.token()
	if token == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
		token = c.token()
	}

	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if err := statusError(resp); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			c.resetToken(token)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrMalformedPayload, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}
	if token != "" {
		req.Header.Set(authHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(snippet))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d %s", domain.ErrUnauthorized, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: status %d %s", domain.ErrUpstreamUnavailable, resp.StatusCode, detail)
	}
}

func passwordSecret(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
