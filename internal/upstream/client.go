package upstream

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"

	"github.com/anatolykoptev/scrapegate/internal/accountstore"
	"github.com/anatolykoptev/scrapegate/internal/proxystore"
)

// Client is a single account+proxy-bound UpstreamClient (spec.md §4.7): a
// minimal interface of set/get cookies, credential login, and raw request
// execution for the caller's opaque scraping thunk.
type Client struct {
	cfg     Config
	http    tls_client.HttpClient
	account accountstore.Account
	proxy   *proxystore.Proxy
	xtidMgr TransactionIDGenerator
}

// TransactionIDGenerator produces an x-client-transaction-id-style header,
// the anti-bot signal captured in SPEC_FULL.md §5.6. Swappable for tests.
type TransactionIDGenerator interface {
	GenerateID(method, path string) (string, error)
}

// New builds a Client for account, egressing through proxy (nil for direct).
func New(cfg Config, account accountstore.Account, proxy *proxystore.Proxy, xtidMgr TransactionIDGenerator) (*Client, error) {
	opts, err := newTransportOptions(cfg, proxy)
	if err != nil {
		return nil, err
	}
	hc, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), opts...)
	if err != nil {
		return nil, fmt.Errorf("new tls client: %w", err)
	}
	return &Client{cfg: cfg, http: hc, account: account, proxy: proxy, xtidMgr: xtidMgr}, nil
}

// Account returns the account this client is bound to.
func (c *Client) Account() accountstore.Account { return c.account }

// Proxy returns the proxy this client egresses through, or nil for direct.
func (c *Client) Proxy() *proxystore.Proxy { return c.proxy }

// SetCookies installs cookie strings of the form "name=value" scoped to
// cfg.BaseURL, per spec.md §4.7 steps 1-2.
func (c *Client) SetCookies(cookies []string) error {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	parsed := make([]*http.Cookie, 0, len(cookies))
	for _, raw := range cookies {
		name, value, ok := strings.Cut(raw, "=")
		if !ok {
			continue
		}
		parsed = append(parsed, &http.Cookie{Name: strings.TrimSpace(name), Value: value, Path: "/", Secure: true})
	}
	c.http.SetCookies(u, parsed)
	return nil
}

// GetCookies returns the current cookie jar contents for cfg.BaseURL as
// "name=value" strings, suitable for AccountStore.SaveCookies.
func (c *Client) GetCookies() ([]string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jarCookies := c.http.GetCookies(u)
	out := make([]string, 0, len(jarCookies))
	for _, ck := range jarCookies {
		out = append(out, ck.Name+"="+ck.Value)
	}
	return out, nil
}

// SetCookiePair is a convenience used by the auth ladder to install a
// single "Secure; HttpOnly"-flagged auth cookie and a "Secure" CSRF cookie,
// per spec.md §4.7 step 2.
func (c *Client) SetCookiePair(authCookieName, authToken, csrfCookieName, csrf string) error {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	c.http.SetCookies(u, []*http.Cookie{
		{Name: authCookieName, Value: authToken, Path: "/", Secure: true, HttpOnly: true},
		{Name: csrfCookieName, Value: csrf, Path: "/", Secure: true},
	})
	return nil
}

// Do executes a raw request against the upstream, injecting the
// transaction-id header and sending headers in cfg.HeaderOrder. This is
// the primitive the caller's opaque scraping thunks are built on.
func (c *Client) Do(method, rawURL string, headers map[string]string, body io.Reader) ([]byte, *http.Response, error) {
	if c.xtidMgr != nil {
		path := rawURL
		if u, err := url.Parse(rawURL); err == nil {
			path = u.Path
		}
		if txID, err := c.xtidMgr.GenerateID(method, path); err == nil {
			headers["x-client-transaction-id"] = txID
		}
	}

	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	for _, k := range c.cfg.HeaderOrder {
		if v, ok := headers[k]; ok {
			req.Header.Set(k, v)
		}
	}
	for k, v := range headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	req.Header[http.HeaderOrderKey] = c.cfg.HeaderOrder

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("read body: %w", err)
	}
	return data, resp, nil
}
