package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ttacon/libphonenumber"
)

// Notifier delivers a short text message to a customer phone. Delivery is
// best-effort; callers treat a returned error as log-and-continue.
type Notifier interface {
	Send(ctx context.Context, phoneNumber string, text string) error
}

// NormalizePhone parses a raw phone number and returns it in E.164 form.
// defaultRegion is used when the number carries no country prefix.
func NormalizePhone(raw string, defaultRegion string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), defaultRegion)
	if err != nil {
		return "", fmt.Errorf("parse phone number: %w", err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number")
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// LogNotifier logs the message instead of sending it. Used in dev/demo mode
// when no SMS provider is configured.
type LogNotifier struct {
	Log           *logrus.Logger
	DefaultRegion string
}

func (n *LogNotifier) Send(_ context.Context, phoneNumber string, text string) error {
	to, err := NormalizePhone(phoneNumber, n.DefaultRegion)
	if err != nil {
		return err
	}
	n.Log.WithFields(logrus.Fields{"to": to, "chars": len(text)}).Info("sms suppressed (no provider configured)")
	return nil
}

// TwilioNotifier sends SMS through the Twilio messaging REST API.
type TwilioNotifier struct {
	accountSID    string
	authToken     string
	fromNumber    string
	defaultRegion string
	baseURL       string
	client        *http.Client
	log           *logrus.Logger
}

func NewTwilioNotifier(accountSID string, authToken string, fromNumber string, defaultRegion string, log *logrus.Logger) *TwilioNotifier {
	return &TwilioNotifier{
		accountSID:    accountSID,
		authToken:     authToken,
		fromNumber:    fromNumber,
		defaultRegion: defaultRegion,
		baseURL:       "https://api.twilio.com",
		client:        &http.Client{Timeout: 10 * time.Second},
		log:           log,
	}
}

func (n *TwilioNotifier) Send(ctx context.Context, phoneNumber string, text string) error {
	to, err := NormalizePhone(phoneNumber, n.defaultRegion)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", n.fromNumber)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.baseURL, n.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(n.accountSID, n.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send sms: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	n.log.WithField("to", to).Debug("sms sent")
	return nil
}
