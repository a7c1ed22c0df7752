package auth_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/PaolaCartala/compliance-local-ai/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("authentication", func() {
	Context("jwt authentication", func() {
		It("successfully validate the token", func() {
			sToken, keyFn := generateToken(jwt.SigningMethodRS256, "batman", "GothamCity")
			authenticator, err := auth.NewJWTAuthenticatorWithKeyFn(keyFn)
			Expect(err).To(BeNil())

			user, err := authenticator.Authenticate(sToken)
			Expect(err).To(BeNil())
			Expect(user.Username).To(Equal("batman"))
			Expect(user.Organization).To(Equal("GothamCity"))
		})

		It("falls back to the subject claim", func() {
			sToken, keyFn := generateToken(jwt.SigningMethodRS256, "", "")
			authenticator, err := auth.NewJWTAuthenticatorWithKeyFn(keyFn)
			Expect(err).To(BeNil())

			user, err := authenticator.Authenticate(sToken)
			Expect(err).To(BeNil())
			Expect(user.Username).To(Equal("somebody"))
		})

		It("fails to authenticate -- wrong signing method", func() {
			sToken, keyFn := generateToken(jwt.SigningMethodES256, "batman", "GothamCity")
			authenticator, err := auth.NewJWTAuthenticatorWithKeyFn(keyFn)
			Expect(err).To(BeNil())

			_, err = authenticator.Authenticate(sToken)
			Expect(err).ToNot(BeNil())
		})

		It("rejects requests without a bearer token", func() {
			_, keyFn := generateToken(jwt.SigningMethodRS256, "batman", "GothamCity")
			authenticator, err := auth.NewJWTAuthenticatorWithKeyFn(keyFn)
			Expect(err).To(BeNil())

			ts := httptest.NewServer(authenticator.Authenticator(&handler{}))
			defer ts.Close()

			resp, err := http.Get(ts.URL)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("successfully authenticate", func() {
			sToken, keyFn := generateToken(jwt.SigningMethodRS256, "batman", "GothamCity")
			authenticator, err := auth.NewJWTAuthenticatorWithKeyFn(keyFn)
			Expect(err).To(BeNil())

			h := &handler{}
			ts := httptest.NewServer(authenticator.Authenticator(h))
			defer ts.Close()

			req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
			Expect(err).To(BeNil())
			req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", sToken))

			resp, rerr := http.DefaultClient.Do(req)
			Expect(rerr).To(BeNil())
			Expect(resp.StatusCode).To(Equal(200))
			Expect(h.user.Username).To(Equal("batman"))
		})
	})

	Context("header authentication", func() {
		It("takes the user from the configured header", func() {
			authenticator, err := auth.NewHeaderAuthenticator("X-User-ID")
			Expect(err).To(BeNil())

			h := &handler{}
			ts := httptest.NewServer(authenticator.Authenticator(h))
			defer ts.Close()

			req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
			Expect(err).To(BeNil())
			req.Header.Add("X-User-ID", "advisor-42")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(200))
			Expect(h.user.Username).To(Equal("advisor-42"))
		})

		It("rejects anonymous requests", func() {
			authenticator, err := auth.NewHeaderAuthenticator("X-User-ID")
			Expect(err).To(BeNil())

			ts := httptest.NewServer(authenticator.Authenticator(&handler{}))
			defer ts.Close()

			resp, err := http.Get(ts.URL)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
})

type handler struct {
	user auth.User
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.user, _ = auth.UserFromContext(r.Context())
	w.WriteHeader(200)
}

func generateToken(method jwt.SigningMethod, username, orgID string) (string, func(t *jwt.Token) (any, error)) {
	type TokenClaims struct {
		Username string `json:"preferred_username,omitempty"`
		OrgID    string `json:"org_id,omitempty"`
		jwt.RegisteredClaims
	}

	claims := TokenClaims{
		username,
		orgID,
		jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "test",
			Subject:   "somebody",
			ID:        "1",
		},
	}

	var (
		signingKey any
		publicKey  any
	)
	switch method {
	case jwt.SigningMethodES256:
		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		Expect(err).To(BeNil())
		signingKey, publicKey = privateKey, privateKey.Public()
	default:
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).To(BeNil())
		signingKey, publicKey = privateKey, privateKey.Public()
	}

	token := jwt.NewWithClaims(method, claims)
	ss, err := token.SignedString(signingKey)
	Expect(err).To(BeNil())

	return ss, func(t *jwt.Token) (any, error) {
		return publicKey, nil
	}
}
