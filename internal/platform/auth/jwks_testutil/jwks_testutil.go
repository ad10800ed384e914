// Package jwks_testutil serves throwaway RSA key sets and signs ID tokens
// against them for verifier and middleware tests.
package jwks_testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Keypair struct {
	Kid     string
	Private *rsa.PrivateKey
}

func GenerateRSAKeypair(kid string) (Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Kid: kid, Private: priv}, nil
}

// Token describes an ID token to sign.
type Token struct {
	Issuer string
	// Audience is a string or a []string.
	Audience  any
	Subject   string
	IssuedAt  time.Time
	TTL       time.Duration
	NotBefore *time.Time
	// Claims are merged last and may override the registered ones.
	Claims map[string]any
}

// Sign mints tok as an RS256 JWT carrying kp.Kid in its header.
func (kp Keypair) Sign(tok Token) (string, error) {
	claims := jwt.MapClaims{
		"iss": tok.Issuer,
		"aud": tok.Audience,
		"sub": tok.Subject,
		"iat": tok.IssuedAt.Unix(),
		"exp": tok.IssuedAt.Add(tok.TTL).Unix(),
	}
	if tok.NotBefore != nil {
		claims["nbf"] = tok.NotBefore.Unix()
	}
	for k, v := range tok.Claims {
		claims[k] = v
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = kp.Kid
	return t.SignedString(kp.Private)
}

// JWKSServer publishes a key set that tests can rotate while it runs.
type JWKSServer struct {
	*httptest.Server

	mu      sync.Mutex
	body    []byte
	fetches int
}

func NewJWKSServer(keys ...Keypair) *JWKSServer {
	s := &JWKSServer{}
	s.SetKeys(keys...)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		body := s.body
		s.fetches++
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	return s
}

// SetKeys replaces the published set.
func (s *JWKSServer) SetKeys(keys ...Keypair) {
	b, _ := json.Marshal(PublicSet(keys))
	s.mu.Lock()
	s.body = b
	s.mu.Unlock()
}

// Fetches reports how many times the set has been served.
func (s *JWKSServer) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type KeySet struct {
	Keys []JWK `json:"keys"`
}

// PublicSet renders the public halves of keys as a JWK set.
func PublicSet(keys []Keypair) KeySet {
	out := KeySet{Keys: make([]JWK, 0, len(keys))}
	for _, kp := range keys {
		pub := kp.Private.PublicKey
		out.Keys = append(out.Keys, JWK{
			Kty: "RSA",
			Use: "sig",
			Alg: "RS256",
			Kid: kp.Kid,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}
