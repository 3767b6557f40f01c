package credstore

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const serviceTokenTTL = 5 * time.Minute

// bearerToken returns the Authorization bearer value for a request. With a
// signing secret configured it mints a short-lived HS256 service token the
// way hosted row stores expect; otherwise the static service key is used.
func (c *Client) bearerToken(now time.Time) (string, error) {
	if c.config.JWTSecret == "" {
		return c.config.ServiceKey, nil
	}
	claims := jwt.MapClaims{
		"role": "service_role",
		"iss":  "hallpass",
		"iat":  now.Unix(),
		"exp":  now.Add(serviceTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}
