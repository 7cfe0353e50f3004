package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/angelmondragon/paywallet-backend/pkg/config"
	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
)

// DeliveryRequest is a rendered notification bound for one recipient.
type DeliveryRequest struct {
	RecipientRef string
	Title        string
	Content      string
}

// Provider delivers rendered notifications over one channel. Deliver errors
// are treated as transient and retried up to the configured ceiling.
type Provider interface {
	Channel() enums.NotificationChannel
	Deliver(ctx context.Context, req DeliveryRequest) error
}

// EmailProvider sends HTML mail over implicit-TLS SMTP.
type EmailProvider struct {
	cfg config.SMTPConfig
}

func NewEmailProvider(cfg config.SMTPConfig) (*EmailProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "smtp host is required")
	}
	return &EmailProvider{cfg: cfg}, nil
}

func (p *EmailProvider) Channel() enums.NotificationChannel {
	return enums.NotificationChannelEmail
}

func (p *EmailProvider) Deliver(ctx context.Context, req DeliveryRequest) error {
	from := p.cfg.From
	if from == "" {
		from = p.cfg.Username
	}
	msg := []byte(
		fmt.Sprintf("From: %s\r\n", from) +
			fmt.Sprintf("To: %s\r\n", req.RecipientRef) +
			fmt.Sprintf("Subject: %s\r\n", req.Title) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=\"utf-8\"\r\n" +
			"\r\n" +
			req.Content,
	)

	dialer := tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{ServerName: p.cfg.Host},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(p.cfg.Host, p.cfg.Port))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "smtp dial")
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "smtp handshake")
	}
	defer client.Quit()

	if p.cfg.Username != "" {
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "smtp auth")
		}
	}
	if err := client.Mail(from); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "smtp mail from")
	}
	if err := client.Rcpt(req.RecipientRef); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "smtp rcpt to")
	}
	w, err := client.Data()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "smtp data")
	}
	if _, err := w.Write(msg); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "smtp write")
	}
	if err := w.Close(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "smtp close")
	}
	return nil
}

// SMSProvider posts messages to an HTTP SMS gateway.
type SMSProvider struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewSMSProvider(cfg config.SMSConfig, client *http.Client) (*SMSProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sms base url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SMSProvider{cfg: cfg, client: client}, nil
}

func (p *SMSProvider) Channel() enums.NotificationChannel {
	return enums.NotificationChannelSMS
}

func (p *SMSProvider) Deliver(ctx context.Context, req DeliveryRequest) error {
	body := map[string]string{
		"to":        req.RecipientRef,
		"message":   req.Content,
		"sender_id": p.cfg.SenderID,
	}
	return postJSON(ctx, p.client, strings.TrimRight(p.cfg.BaseURL, "/")+"/messages", "Bearer "+p.cfg.APIKey, body)
}

// PushProvider posts notifications to a push delivery service.
type PushProvider struct {
	cfg    config.PushConfig
	client *http.Client
}

func NewPushProvider(cfg config.PushConfig, client *http.Client) (*PushProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "push base url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &PushProvider{cfg: cfg, client: client}, nil
}

func (p *PushProvider) Channel() enums.NotificationChannel {
	return enums.NotificationChannelPush
}

func (p *PushProvider) Deliver(ctx context.Context, req DeliveryRequest) error {
	body := map[string]string{
		"to":    req.RecipientRef,
		"title": req.Title,
		"body":  req.Content,
	}
	return postJSON(ctx, p.client, strings.TrimRight(p.cfg.BaseURL, "/")+"/send", "key="+p.cfg.ServerKey, body)
}

func postJSON(ctx context.Context, client *http.Client, url, authorization string, body map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode provider payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build provider request")
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, err, "provider request")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeDeliveryFailed, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}
	return nil
}
