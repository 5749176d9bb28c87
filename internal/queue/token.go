package queue

import (
	"errors"
	"time"

	"queueescape/queue-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid ticket token")

// TicketClaims identifies a ticket without exposing a guessable lookup.
type TicketClaims struct {
	QueueID      string `json:"queue_id"`
	TicketNumber string `json:"ticket_number"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (i *TokenIssuer) Issue(ticket models.Ticket, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TicketClaims{
		QueueID:      ticket.QueueID,
		TicketNumber: ticket.TicketNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ticket.TicketNumber,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	return token.SignedString(i.secret)
}

// Parse validates the token at now, the same clock Issue was given.
func (i *TokenIssuer) Parse(tokenString string, now time.Time) (TicketClaims, error) {
	claims := TicketClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !token.Valid {
		return TicketClaims{}, ErrInvalidToken
	}
	if claims.QueueID == "" || claims.TicketNumber == "" {
		return TicketClaims{}, ErrInvalidToken
	}
	return claims, nil
}
