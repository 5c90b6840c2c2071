package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/cache"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// ProviderGoogle names Google as the identity provider on stored identities.
	ProviderGoogle = "google"

	googleKeysCacheKey = "auth:google:jwks"
	defaultKeyMaxAge   = time.Hour
	maxJWKSBytes       = 1 << 20
)

// GoogleIssuers are the issuer values Google puts on ID tokens.
var GoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

var (
	errMissingToken         = errors.New("id token must not be empty")
	errMissingKeyIdentifier = errors.New("token missing key identifier")
	errKeyNotFound          = errors.New("signing key not found in JWKS")
	errUntrustedIssuer      = errors.New("token issuer not allowed")
	errMissingSubject       = errors.New("token missing subject claim")
	errUnverifiedEmail      = errors.New("token email is not verified")
	errNoUsableKeys         = errors.New("jwks document contained no usable keys")
	errMissingClientID      = errors.New("google client id required")
	errMissingJWKSURL       = errors.New("jwks url configuration required")
	errNoAllowedIssuers     = errors.New("no allowed issuers configured")
	// ErrInvalidVerifierConfig reports a GoogleVerifier built from unusable configuration.
	ErrInvalidVerifierConfig = errors.New("auth: invalid google verifier config")
)

// GoogleVerifierConfig configures GoogleVerifier.
// KeyCache shares fetched signing keys between API instances; an in-process cache is used when nil.
// MaxKeyAge applies when Google's key response carries no Cache-Control max-age.
type GoogleVerifierConfig struct {
	ClientID       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	KeyCache       cache.Store
	MaxKeyAge      time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// Identity is the signed-in Google account in LaunchLeap's user metadata terms.
type Identity struct {
	Provider  string
	Subject   string
	Email     string
	FullName  string
	AvatarURL string
}

type googleIDTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// GoogleVerifier checks Google ID tokens offline against Google's published signing keys.
type GoogleVerifier struct {
	clientID   string
	jwksURL    string
	issuers    map[string]struct{}
	httpClient *http.Client
	keyCache   cache.Store
	maxKeyAge  time.Duration
	logger     *zap.Logger
	clock      func() time.Time

	mu   sync.RWMutex
	keys *signingKeys
}

// NewGoogleVerifier validates cfg and returns a verifier.
func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingClientID)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}

	allowed := cfg.AllowedIssuers
	if len(allowed) == 0 {
		allowed = GoogleIssuers
	}
	issuers := make(map[string]struct{}, len(allowed))
	for _, issuer := range allowed {
		if trimmed := strings.TrimSpace(issuer); trimmed != "" {
			issuers[trimmed] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errNoAllowedIssuers)
	}

	verifier := &GoogleVerifier{
		clientID:   clientID,
		jwksURL:    jwksURL,
		issuers:    issuers,
		httpClient: cfg.HTTPClient,
		keyCache:   cfg.KeyCache,
		maxKeyAge:  cfg.MaxKeyAge,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}
	if verifier.httpClient == nil {
		verifier.httpClient = http.DefaultClient
	}
	if verifier.clock == nil {
		verifier.clock = time.Now
	}
	if verifier.keyCache == nil {
		verifier.keyCache = cache.NewMemory(verifier.clock)
	}
	if verifier.maxKeyAge <= 0 {
		verifier.maxKeyAge = defaultKeyMaxAge
	}
	if verifier.logger == nil {
		verifier.logger = zap.NewNop()
	}
	return verifier, nil
}

// Verify checks rawToken and returns the identity it asserts.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Identity{}, errMissingToken
	}

	claims := &googleIDTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.signingKey(ctx, keyID)
		},
		jwt.WithAudience(v.clientID),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return Identity{}, err
	}

	switch {
	case !v.trusts(claims.Issuer):
		return Identity{}, errUntrustedIssuer
	case strings.TrimSpace(claims.Subject) == "":
		return Identity{}, errMissingSubject
	case claims.EmailVerified != nil && !*claims.EmailVerified:
		return Identity{}, errUnverifiedEmail
	}

	return Identity{
		Provider:  ProviderGoogle,
		Subject:   claims.Subject,
		Email:     strings.TrimSpace(claims.Email),
		FullName:  strings.TrimSpace(claims.Name),
		AvatarURL: strings.TrimSpace(claims.Picture),
	}, nil
}

func (v *GoogleVerifier) trusts(issuer string) bool {
	_, ok := v.issuers[issuer]
	return ok
}

// signingKey resolves keyID from memory, then the shared cache, then Google.
// An unknown key id always reaches Google so rotated keys are picked up.
func (v *GoogleVerifier) signingKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	now := v.clock()
	v.mu.RLock()
	current := v.keys
	v.mu.RUnlock()
	if key := current.lookup(keyID, now); key != nil {
		return key, nil
	}

	if shared, ok := v.sharedKeys(ctx, now); ok {
		v.install(shared)
		if key := shared.lookup(keyID, now); key != nil {
			return key, nil
		}
	}

	fetched, err := v.fetchKeys(ctx, now)
	if err != nil {
		return nil, err
	}
	v.install(fetched)
	if key := fetched.lookup(keyID, now); key != nil {
		return key, nil
	}
	return nil, errKeyNotFound
}

func (v *GoogleVerifier) install(keys *signingKeys) {
	v.mu.Lock()
	v.keys = keys
	v.mu.Unlock()
}

// cachedKeys is the shared cache entry: Google's document plus when it goes stale.
type cachedKeys struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Document  json.RawMessage `json:"document"`
}

func (v *GoogleVerifier) sharedKeys(ctx context.Context, now time.Time) (*signingKeys, bool) {
	raw, found := v.keyCache.Get(ctx, googleKeysCacheKey)
	if !found {
		return nil, false
	}
	var entry cachedKeys
	if err := json.Unmarshal(raw, &entry); err != nil || !now.Before(entry.ExpiresAt) {
		return nil, false
	}
	keys, err := parseSigningKeys(entry.Document, entry.ExpiresAt, v.logger)
	if err != nil {
		v.logger.Debug("ignoring cached google keys", zap.Error(err))
		return nil, false
	}
	return keys, true
}

func (v *GoogleVerifier) fetchKeys(ctx context.Context, now time.Time) (*signingKeys, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	response, err := v.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetching google keys: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching google keys: status %d", response.StatusCode)
	}
	document, err := io.ReadAll(io.LimitReader(response.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("reading google keys: %w", err)
	}

	lifetime, ok := maxAge(response.Header.Get("Cache-Control"))
	if !ok {
		lifetime = v.maxKeyAge
	}
	expiresAt := now.Add(lifetime)
	keys, err := parseSigningKeys(document, expiresAt, v.logger)
	if err != nil {
		return nil, err
	}

	if entry, err := json.Marshal(cachedKeys{ExpiresAt: expiresAt, Document: document}); err == nil {
		v.keyCache.Set(ctx, googleKeysCacheKey, entry, lifetime)
	}
	return keys, nil
}

// maxAge reads the max-age directive of a Cache-Control header.
func maxAge(header string) (time.Duration, bool) {
	for _, directive := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

type signingKeys struct {
	byID      map[string]*rsa.PublicKey
	expiresAt time.Time
}

func (k *signingKeys) lookup(keyID string, now time.Time) *rsa.PublicKey {
	if k == nil || !now.Before(k.expiresAt) {
		return nil
	}
	return k.byID[keyID]
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func parseSigningKeys(document []byte, expiresAt time.Time, logger *zap.Logger) (*signingKeys, error) {
	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.Unmarshal(document, &set); err != nil {
		return nil, fmt.Errorf("decoding google keys: %w", err)
	}
	keys := &signingKeys{byID: make(map[string]*rsa.PublicKey, len(set.Keys)), expiresAt: expiresAt}
	for _, candidate := range set.Keys {
		if candidate.KeyType != "RSA" || (candidate.Use != "" && candidate.Use != "sig") {
			continue
		}
		publicKey, err := candidate.publicKey()
		if err != nil {
			logger.Debug("skipping google key", zap.String("kid", candidate.KeyID), zap.Error(err))
			continue
		}
		keys.byID[candidate.KeyID] = publicKey
	}
	if len(keys.byID) == 0 {
		return nil, errNoUsableKeys
	}
	return keys, nil
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}
	exponent := new(big.Int).SetBytes(exponentBytes)
	if !exponent.IsInt64() || exponent.Int64() <= 1 || exponent.Int64() > 1<<31-1 {
		return nil, errors.New("invalid exponent value")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(exponent.Int64())}, nil
}
