package echoapi

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const apiKeyHeader = "X-API-Key"

// apiKeyMiddleware guards the API with a shared key. An empty key disables the check (DEV & tests).
func apiKeyMiddleware(apiKey string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + apiKeyHeader,
		Skipper: func(echo.Context) bool {
			return apiKey == ""
		},
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		},
		ErrorHandler: func(error, echo.Context) error {
			return errUnauthorized
		},
	})
}
