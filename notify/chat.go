package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// chatResult is the status envelope returned by the dingtalk and wecom bots.
type chatResult struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func checkChatResult(body []byte) error {
	var res chatResult
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if res.ErrCode != 0 {
		return fmt.Errorf("bot error %d: %s", res.ErrCode, res.ErrMsg)
	}
	return nil
}

// DingTalk posts to a DingTalk custom robot.
type DingTalk struct {
	cfg    ChannelConfig
	client *http.Client
	now    func() time.Time
}

func (d *DingTalk) Name() string    { return channelName(d.cfg) }
func (d *DingTalk) IsEnabled() bool { return d.cfg.Enabled && d.cfg.WebhookURL != "" }

func (d *DingTalk) Send(ctx context.Context, msg Message) error {
	target := d.cfg.WebhookURL
	if d.cfg.Secret != "" {
		ts := strconv.FormatInt(d.now().UnixMilli(), 10)
		mac := hmac.New(sha256.New, []byte(d.cfg.Secret))
		mac.Write([]byte(ts + "\n" + d.cfg.Secret))
		sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("parsing webhook url: %w", err)
		}
		q := u.Query()
		q.Set("timestamp", ts)
		q.Set("sign", sign)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	var body any
	if msg.MsgType == MsgTypeMarkdown {
		body = map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"title": msg.Title, "text": msg.Text()},
		}
	} else {
		body = map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": msg.Text()},
		}
	}

	resp, err := postJSON(ctx, d.client, target, body, nil)
	if err != nil {
		return err
	}
	return checkChatResult(resp)
}

// WeCom posts to a WeCom group robot.
type WeCom struct {
	cfg    ChannelConfig
	client *http.Client
}

func (w *WeCom) Name() string    { return channelName(w.cfg) }
func (w *WeCom) IsEnabled() bool { return w.cfg.Enabled && w.cfg.WebhookURL != "" }

func (w *WeCom) Send(ctx context.Context, msg Message) error {
	msgType := MsgTypeText
	if msg.MsgType == MsgTypeMarkdown {
		msgType = MsgTypeMarkdown
	}
	body := map[string]any{
		"msgtype": msgType,
		msgType:   map[string]string{"content": msg.Text()},
	}

	resp, err := postJSON(ctx, w.client, w.cfg.WebhookURL, body, nil)
	if err != nil {
		return err
	}
	return checkChatResult(resp)
}

// Feishu posts to a Feishu (Lark) custom bot.
type Feishu struct {
	cfg    ChannelConfig
	client *http.Client
	now    func() time.Time
}

func (f *Feishu) Name() string    { return channelName(f.cfg) }
func (f *Feishu) IsEnabled() bool { return f.cfg.Enabled && f.cfg.WebhookURL != "" }

func (f *Feishu) Send(ctx context.Context, msg Message) error {
	body := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": msg.Text()},
	}

	if f.cfg.Secret != "" {
		// Feishu signs with the string-to-sign as the HMAC key and an empty message.
		ts := strconv.FormatInt(f.now().Unix(), 10)
		mac := hmac.New(sha256.New, []byte(ts+"\n"+f.cfg.Secret))
		body["timestamp"] = ts
		body["sign"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}

	resp, err := postJSON(ctx, f.client, f.cfg.WebhookURL, body, nil)
	if err != nil {
		return err
	}

	var res struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(resp, &res); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if res.Code != 0 {
		return fmt.Errorf("bot error %d: %s", res.Code, res.Msg)
	}
	return nil
}

// Slack posts to a Slack incoming webhook.
type Slack struct {
	cfg    ChannelConfig
	client *http.Client
}

func (s *Slack) Name() string    { return channelName(s.cfg) }
func (s *Slack) IsEnabled() bool { return s.cfg.Enabled && s.cfg.WebhookURL != "" }

func (s *Slack) Send(ctx context.Context, msg Message) error {
	text := msg.Content
	if msg.Title != "" {
		title := msg.Title
		if msg.URL != "" {
			title = "<" + msg.URL + "|" + msg.Title + ">"
		}
		text = "*" + title + "*\n" + msg.Content
	}
	_, err := postJSON(ctx, s.client, s.cfg.WebhookURL, map[string]string{"text": text}, nil)
	return err
}

// Webhook posts the message as JSON to an arbitrary endpoint.
type Webhook struct {
	cfg    ChannelConfig
	client *http.Client
}

func (w *Webhook) Name() string    { return channelName(w.cfg) }
func (w *Webhook) IsEnabled() bool { return w.cfg.Enabled && w.cfg.WebhookURL != "" }

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	_, err := postJSON(ctx, w.client, w.cfg.WebhookURL, msg, w.cfg.Headers)
	return err
}
