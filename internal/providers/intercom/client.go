package intercom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trendcast/internal/domain"
	"trendcast/internal/observability"
)

const (
	DefaultBaseURL      = "https://api.intercom.io"
	DefaultAPIVersion   = "2.11"
	DefaultPageSize     = 150
	DefaultRequestDelay = 50 * time.Millisecond

	maxBodyBytes = 4 << 20
)

var ErrRepeatedCursor = errors.New("platform returned an already consumed cursor")

type Options struct {
	Token        string
	AdminID      string
	BaseURL      string
	APIVersion   string
	PageSize     int
	MaxPages     int // 0 = unlimited
	RequestDelay time.Duration
	Verbose      bool
	HTTP         *http.Client
	Logger       *slog.Logger
}

// Client talks to the messaging platform. It keeps no state between calls beyond its
// configuration, so SendToOne is safe to call concurrently.
type Client struct {
	token        string
	adminID      string
	baseURL      string
	apiVersion   string
	pageSize     int
	maxPages     int
	requestDelay time.Duration
	verbose      bool
	http         *http.Client
	log          *slog.Logger
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, &domain.ConfigError{Field: "INTERCOM_TOKEN"}
	}
	if strings.TrimSpace(opts.AdminID) == "" {
		return nil, &domain.ConfigError{Field: "INTERCOM_ADMIN_ID"}
	}
	c := &Client{
		token:        opts.Token,
		adminID:      opts.AdminID,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiVersion:   opts.APIVersion,
		pageSize:     opts.PageSize,
		maxPages:     opts.MaxPages,
		requestDelay: opts.RequestDelay,
		verbose:      opts.Verbose,
		http:         opts.HTTP,
		log:          opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.apiVersion == "" {
		c.apiVersion = DefaultAPIVersion
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.maxPages < 0 {
		c.maxPages = 0
	}
	if c.requestDelay < 0 {
		c.requestDelay = 0
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "intercom")
	return c, nil
}

// Filter is a single search predicate, e.g. {last_seen_at > 1700000000}.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type contact struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Role       string `json:"role"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	LastSeenAt *int64 `json:"last_seen_at"`
}

type listEnvelope struct {
	Data  []contact `json:"data"`
	Pages struct {
		Next pageRef `json:"next"`
	} `json:"pages"`
}

type searchBody struct {
	Query      Filter `json:"query"`
	Pagination struct {
		PerPage int `json:"per_page"`
	} `json:"pagination"`
}

// ListAllRecipients walks /contacts to the end (or to the page budget) and returns
// every contact whose role is "user". Any failed page fails the whole call.
func (c *Client) ListAllRecipients(ctx context.Context) ([]domain.Recipient, error) {
	first := c.baseURL + "/contacts?per_page=" + strconv.Itoa(c.pageSize)
	return c.paginate(ctx, "list_contacts", http.MethodGet, first, nil)
}

// SearchRecipients runs a contact search. The first page is a POST carrying the filter;
// later pages are plain GETs on the returned cursor.
func (c *Client) SearchRecipients(ctx context.Context, f Filter) ([]domain.Recipient, error) {
	body := searchBody{Query: f}
	body.Pagination.PerPage = c.pageSize
	return c.paginate(ctx, "search_contacts", http.MethodPost, c.baseURL+"/contacts/search", body)
}

func (c *Client) paginate(ctx context.Context, op, method, firstURL string, firstBody any) ([]domain.Recipient, error) {
	var out []domain.Recipient
	consumed := map[string]struct{}{firstURL: {}}
	next := firstURL

	for page := 0; c.maxPages == 0 || page < c.maxPages; page++ {
		if page > 0 {
			if err := sleepCtx(ctx, c.requestDelay); err != nil {
				return nil, err
			}
			method, firstBody = http.MethodGet, nil
		}

		var env listEnvelope
		if err := c.do(ctx, op, method, next, firstBody, &env); err != nil {
			return nil, err
		}
		observability.PagesFetched.WithLabelValues(op).Inc()

		for _, ct := range env.Data {
			if ct.Role != "user" {
				continue
			}
			out = append(out, ct.recipient())
		}

		next = env.Pages.Next.resolve(c.baseURL)
		if c.verbose {
			c.log.Info("fetched page", "op", op, "page", page+1, "items", len(env.Data), "total", len(out), "next", next)
		}
		if len(env.Data) == 0 || next == "" {
			break
		}
		if _, seen := consumed[next]; seen {
			return nil, fmt.Errorf("%s: %w: %s", op, ErrRepeatedCursor, next)
		}
		consumed[next] = struct{}{}
	}
	return out, nil
}

func (ct contact) recipient() domain.Recipient {
	r := domain.Recipient{
		ID:          ct.ID,
		Kind:        domain.KindContact,
		Email:       ct.Email,
		DisplayName: ct.Name,
	}
	if ct.Type == "user" {
		r.Kind = domain.KindUser
	}
	if ct.LastSeenAt != nil && *ct.LastSeenAt > 0 {
		t := time.Unix(*ct.LastSeenAt, 0).UTC()
		r.LastActiveAt = &t
	}
	return r
}

// ListSegments is a single unpaginated fetch.
func (c *Client) ListSegments(ctx context.Context) ([]domain.Segment, error) {
	var env struct {
		Segments []domain.Segment `json:"segments"`
	}
	if err := c.do(ctx, "list_segments", http.MethodGet, c.baseURL+"/segments", nil, &env); err != nil {
		return nil, err
	}
	return env.Segments, nil
}

type SendResponse struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type messageParty struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type messageRequest struct {
	MessageType string       `json:"message_type"`
	Body        string       `json:"body"`
	From        messageParty `json:"from"`
	To          messageParty `json:"to"`
}

// SendToOne posts one in-app message. Failures come back as *domain.SendError and are
// never retried here.
func (c *Client) SendToOne(ctx context.Context, recipientID, htmlBody string) (SendResponse, error) {
	payload := messageRequest{
		MessageType: "inapp",
		Body:        htmlBody,
		From:        messageParty{Type: "admin", ID: c.adminID},
		To:          messageParty{Type: "user", ID: recipientID},
	}
	var out SendResponse
	err := c.do(ctx, "send_message", http.MethodPost, c.baseURL+"/messages", payload, &out)
	if err == nil {
		return out, nil
	}
	var te *domain.TransportError
	if errors.As(err, &te) {
		return SendResponse{}, &domain.SendError{RecipientID: recipientID, StatusCode: te.StatusCode, Body: te.Body}
	}
	return SendResponse{}, &domain.SendError{RecipientID: recipientID, Err: err}
}

func (c *Client) do(ctx context.Context, op, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Intercom-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.TransportErrors.WithLabelValues(op, "0").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.TransportErrors.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && len(b) > 0 {
		if err := json.Unmarshal(b, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
