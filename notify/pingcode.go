package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultPingCodeURL = "https://open.pingcode.com"
	// tokenSkew expires cached tokens slightly before the server does.
	tokenSkew       = time.Minute
	workItemIDTTL   = time.Hour
	maxWorkItemRefs = 10
)

// workItemRegex matches work item identifiers like "PRJ-123".
var workItemRegex = regexp.MustCompile(`\b([A-Z][A-Z0-9]*-\d+)\b`)

// PingCode comments the notification on every work item the message
// mentions. Messages that mention none are not sent anywhere.
type PingCode struct {
	cfg    ChannelConfig
	client *http.Client
	cache  *TokenCache
}

func (p *PingCode) Name() string { return channelName(p.cfg) }

func (p *PingCode) IsEnabled() bool {
	return p.cfg.Enabled && p.cfg.ClientID != "" && p.cfg.ClientSecret != ""
}

func (p *PingCode) Send(ctx context.Context, msg Message) error {
	identifiers := WorkItemIdentifiers(msg.Title + "\n" + msg.Content)
	if len(identifiers) == 0 {
		return nil
	}

	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, ident := range identifiers {
		if err := p.comment(ctx, token, ident, msg.Text()); err != nil {
			if isStatus(err, http.StatusUnauthorized) {
				p.cache.Delete(p.tokenKey())
			}
			errs = append(errs, fmt.Errorf("%s: %w", ident, err))
		}
	}
	return errors.Join(errs...)
}

// WorkItemIdentifiers returns the distinct work item identifiers in text, in
// order of appearance.
func WorkItemIdentifiers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range workItemRegex.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
		if len(out) == maxWorkItemRefs {
			break
		}
	}
	return out
}

func (p *PingCode) baseURL() string {
	if p.cfg.BaseURL != "" {
		return strings.TrimSuffix(p.cfg.BaseURL, "/")
	}
	return defaultPingCodeURL
}

func (p *PingCode) tokenKey() string {
	return "pingcode:token:" + p.cfg.ClientID
}

func (p *PingCode) token(ctx context.Context) (string, error) {
	if tok, ok := p.cache.Get(p.tokenKey()); ok {
		return tok, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", p.cfg.ClientID)
	q.Set("client_secret", p.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL()+"/v1/auth/token?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	body, err := do(p.client, req)
	if err != nil {
		return "", fmt.Errorf("fetching token: %w", err)
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("parsing token response: %w", err)
	}
	if res.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}

	ttl := time.Duration(res.ExpiresIn) * time.Second
	if ttl > tokenSkew {
		ttl -= tokenSkew
	}
	p.cache.Set(p.tokenKey(), res.AccessToken, ttl)

	return res.AccessToken, nil
}

func (p *PingCode) workItemID(ctx context.Context, token, identifier string) (string, error) {
	key := "pingcode:item:" + p.cfg.ClientID + ":" + identifier
	if id, ok := p.cache.Get(key); ok {
		return id, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL()+"/v1/project/work_items?identifier="+url.QueryEscape(identifier), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	body, err := do(p.client, req)
	if err != nil {
		return "", err
	}

	var res struct {
		Values []struct {
			ID string `json:"id"`
		} `json:"values"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("parsing work items: %w", err)
	}
	if len(res.Values) == 0 {
		return "", fmt.Errorf("work item not found")
	}

	p.cache.Set(key, res.Values[0].ID, workItemIDTTL)
	return res.Values[0].ID, nil
}

func (p *PingCode) comment(ctx context.Context, token, identifier, text string) error {
	id, err := p.workItemID(ctx, token, identifier)
	if err != nil {
		return err
	}

	_, err = postJSON(ctx, p.client, p.baseURL()+"/v1/comments", map[string]string{
		"principal_type": "work_item",
		"principal_id":   id,
		"content":        text,
	}, map[string]string{"Authorization": "Bearer " + token})
	return err
}
