package email

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/textproto"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/logger"
)

// MockEmailTTL is how long a mock email stays readable in Redis.
const MockEmailTTL = 5 * time.Minute

// MockEmailKey is the Redis key a mock email for recipient/template is stored under.
func MockEmailKey(recipient, templateID string) string {
	return fmt.Sprintf("mockemail:%s:%s", strings.ToLower(recipient), templateID)
}

// MockEmail is the JSON document RedisSender stores.
type MockEmail struct {
	To         string `json:"to"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	TemplateID string `json:"template_id"`
	SentAt     string `json:"sent_at"`
}

// RedisSender stores emails in Redis instead of delivering them.
type RedisSender struct {
	client redis.Cmdable
	cfg    *config.Config
}

func NewRedisSender(client redis.Cmdable, cfg *config.Config) Sender {
	return &RedisSender{client: client, cfg: cfg}
}

func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	templateID, body := splitMessage(rawMessage)
	if templateID == "" {
		templateID = "unknown"
	}

	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}

	data, err := json.Marshal(MockEmail{
		To:         strings.Join(to, ", "),
		From:       s.cfg.SmtpFromAddress,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		SentAt:     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := MockEmailKey(primaryTo, templateID)
	if err := s.client.Set(ctx, key, data, MockEmailTTL).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	logger.Ctx(ctx).Debug().Str("key", key).Str("subject", subject).Msg("mock email stored")
	return nil
}

// splitMessage returns the template header and the body of a raw message.
func splitMessage(rawMessage []byte) (string, string) {
	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(rawMessage)))
	header, err := reader.ReadMIMEHeader()
	if err != nil {
		return "", string(rawMessage)
	}
	body, _ := io.ReadAll(reader.R)
	return header.Get(TemplateHeader), strings.TrimRight(string(body), "\r\n")
}
