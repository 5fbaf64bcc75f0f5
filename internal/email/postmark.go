// Package email sends account mails through the Postmark API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at another Postmark-compatible endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

// NewClient returns a client sending from fromEmail. baseURL is the public
// address of the app, used to build the links in the mails.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      defaultAPIURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendConfirmation mails the code that confirms a new account's address.
func (c *Client) SendConfirmation(ctx context.Context, toEmail, code string) error {
	link := c.link("/e-mail-confirmation", toEmail, code)
	return c.send(ctx, toEmail, "Confirm your Roomie email address",
		"confirm your email address", code, link, "24 hours")
}

// SendPasswordReset mails the code that allows setting a new password.
func (c *Client) SendPasswordReset(ctx context.Context, toEmail, code string) error {
	link := c.link("/reset-password", toEmail, code)
	return c.send(ctx, toEmail, "Reset your Roomie password",
		"reset your password", code, link, "1 hour")
}

func (c *Client) link(path, toEmail, code string) string {
	q := url.Values{"email": {toEmail}, "code": {code}}
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) send(ctx context.Context, toEmail, subject, action, code, link, validFor string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	textBody := fmt.Sprintf(
		"Use the code %s or open the link below to %s:\n\n%s\n\nThe code expires in %s.",
		code, action, link, validFor,
	)
	htmlBody := fmt.Sprintf(
		`<p>Use the code <strong>%s</strong> or open the link below to %s:</p><p><a href="%s">%s</a></p><p>The code expires in %s.</p>`,
		code, action, link, action, validFor,
	)

	body, err := json.Marshal(postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	return nil
}
