package auth

import (
	"context"
	"net/http"

	"github.com/PaolaCartala/compliance-local-ai/internal/config"
	"go.uber.org/zap"
)

type Authenticator interface {
	Authenticator(next http.Handler) http.Handler
}

const (
	HeaderAuthentication string = "header"
	JWTAuthentication    string = "jwt"
)

func NewAuthenticator(authConfig config.Auth) (Authenticator, error) {
	zap.S().Named("auth").Infof("authentication: '%s'", authConfig.AuthenticationType)

	switch authConfig.AuthenticationType {
	case JWTAuthentication:
		return NewJWTAuthenticator(context.Background(), authConfig.JwkCertURL)
	default:
		return NewHeaderAuthenticator(authConfig.UserHeader)
	}
}
