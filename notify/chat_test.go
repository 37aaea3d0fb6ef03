package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	query  map[string]string
	header http.Header
	body   map[string]any
}

func captureServer(t *testing.T, response string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{query: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k := range r.URL.Query() {
			c.query[k] = r.URL.Query().Get(k)
		}
		c.header = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c.body))
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

var fixedNow = func() time.Time { return time.UnixMilli(1700000000123) }

func TestDingTalk_Send(t *testing.T) {
	srv, got := captureServer(t, `{"errcode":0,"errmsg":"ok"}`)

	d := &DingTalk{
		cfg:    ChannelConfig{Type: TypeDingTalk, Enabled: true, WebhookURL: srv.URL + "/robot/send?access_token=abc", Secret: "SEC"},
		client: srv.Client(),
		now:    fixedNow,
	}
	require.True(t, d.IsEnabled())

	err := d.Send(context.Background(), Message{Title: "Review", Content: "body", MsgType: MsgTypeMarkdown})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("SEC"))
	mac.Write([]byte("1700000000123\nSEC"))
	wantSign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, "abc", got.query["access_token"])
	assert.Equal(t, "1700000000123", got.query["timestamp"])
	assert.Equal(t, wantSign, got.query["sign"])
	assert.Equal(t, "markdown", got.body["msgtype"])
	md := got.body["markdown"].(map[string]any)
	assert.Equal(t, "Review", md["title"])
	assert.Equal(t, "Review\nbody", md["text"])
}

func TestDingTalk_ErrorCode(t *testing.T) {
	srv, _ := captureServer(t, `{"errcode":310000,"errmsg":"sign not match"}`)
	d := &DingTalk{cfg: ChannelConfig{Enabled: true, WebhookURL: srv.URL}, client: srv.Client(), now: fixedNow}

	err := d.Send(context.Background(), Message{Content: "x"})
	assert.ErrorContains(t, err, "sign not match")
}

func TestWeCom_Send(t *testing.T) {
	srv, got := captureServer(t, `{"errcode":0,"errmsg":"ok"}`)
	w := &WeCom{cfg: ChannelConfig{Enabled: true, WebhookURL: srv.URL}, client: srv.Client()}

	require.NoError(t, w.Send(context.Background(), Message{Title: "T", Content: "C", URL: "https://x/pr/1"}))

	assert.Equal(t, "text", got.body["msgtype"])
	text := got.body["text"].(map[string]any)
	assert.Equal(t, "T\nhttps://x/pr/1\nC", text["content"])
}

func TestFeishu_Send(t *testing.T) {
	srv, got := captureServer(t, `{"code":0,"msg":"success"}`)
	f := &Feishu{cfg: ChannelConfig{Enabled: true, WebhookURL: srv.URL, Secret: "S"}, client: srv.Client(), now: fixedNow}

	require.NoError(t, f.Send(context.Background(), Message{Content: "hello"}))

	mac := hmac.New(sha256.New, []byte("1700000000\nS"))
	assert.Equal(t, "1700000000", got.body["timestamp"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), got.body["sign"])
	assert.Equal(t, "text", got.body["msg_type"])
}

func TestFeishu_ErrorCode(t *testing.T) {
	srv, _ := captureServer(t, `{"code":19021,"msg":"sign match fail"}`)
	f := &Feishu{cfg: ChannelConfig{Enabled: true, WebhookURL: srv.URL}, client: srv.Client(), now: fixedNow}

	assert.ErrorContains(t, f.Send(context.Background(), Message{Content: "x"}), "19021")
}

func TestSlack_Send(t *testing.T) {
	srv, got := captureServer(t, "ok")
	s := &Slack{cfg: ChannelConfig{Enabled: true, WebhookURL: srv.URL}, client: srv.Client()}

	require.NoError(t, s.Send(context.Background(), Message{Title: "PR #5", URL: "https://x/5", Content: "2 issues"}))
	assert.Equal(t, "*<https://x/5|PR #5>*\n2 issues", got.body["text"])
}

func TestWebhook_Send(t *testing.T) {
	srv, got := captureServer(t, "")
	w := &Webhook{
		cfg:    ChannelConfig{Enabled: true, WebhookURL: srv.URL, Headers: map[string]string{"X-Token": "t"}},
		client: srv.Client(),
	}

	require.NoError(t, w.Send(context.Background(), Message{Title: "a", Content: "b", MsgType: MsgTypeText}))
	assert.Equal(t, "t", got.header.Get("X-Token"))
	assert.Equal(t, "a", got.body["title"])
	assert.Equal(t, "b", got.body["content"])
}

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChannelConfig
		want bool
	}{
		{"webhook enabled", ChannelConfig{Type: TypeWebhook, Enabled: true, WebhookURL: "http://x"}, true},
		{"webhook missing url", ChannelConfig{Type: TypeWebhook, Enabled: true}, false},
		{"switched off", ChannelConfig{Type: TypeSlack, WebhookURL: "http://x"}, false},
		{"pingcode credentials", ChannelConfig{Type: TypePingCode, Enabled: true, ClientID: "id", ClientSecret: "s"}, true},
		{"pingcode missing secret", ChannelConfig{Type: TypePingCode, Enabled: true, ClientID: "id"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := New(tt.cfg, Deps{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ch.IsEnabled())
		})
	}
}
