package auth

import (
	"encoding/base64"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSignature = errors.New("invalid notification signature")

// NotificationSigner checks that a payment notification came from the gateway.
// The gateway signs "order_id:transaction_status" with HS256 under the shared
// server key and sends the base64url result as signature_key.
type NotificationSigner struct {
	key []byte
}

func NewNotificationSigner(serverKey string) *NotificationSigner {
	return &NotificationSigner{key: []byte(serverKey)}
}

func notificationPayload(orderID, transactionStatus string) string {
	return orderID + ":" + transactionStatus
}

// Sign produces the signature_key for a notification. Used by tests and the simulate tool.
func (s *NotificationSigner) Sign(orderID, transactionStatus string) (string, error) {
	sig, err := jwt.SigningMethodHS256.Sign(notificationPayload(orderID, transactionStatus), s.key)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

func (s *NotificationSigner) Verify(orderID, transactionStatus, signature string) error {
	if len(s.key) == 0 || signature == "" {
		return ErrInvalidSignature
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if err := jwt.SigningMethodHS256.Verify(notificationPayload(orderID, transactionStatus), sig, s.key); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
