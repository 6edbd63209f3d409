package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		count    = flag.Int("count", 1, "number of tokens to generate")
		prefix   = flag.String("prefix", "board-user", "prefix for generated user IDs when count > 1")
		start    = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		ttl      = flag.Duration("ttl", time.Hour, "token lifetime")
		audience = flag.String("audience", "", "aud claim, if the API checks one")
		issuer   = flag.String("issuer", "", "iss claim, if the API checks one")
		output   = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}
	secret, err := sharedSecret(os.Getenv)
	if err != nil {
		log.Fatal(err)
	}

	signer := tokenSigner{secret: []byte(secret), ttl: *ttl, audience: *audience, issuer: *issuer, now: time.Now}
	tokens := make([]string, *count)
	for i, userID := range userIDs(*count, *prefix, *start, args) {
		if tokens[i], err = signer.sign(userID); err != nil {
			log.Fatalf("generate token: %v", err)
		}
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

// sharedSecret prefers the local auth secret and falls back to the test
// mode one, matching what the API accepts.
func sharedSecret(getenv func(string) string) (string, error) {
	if s := getenv("LOCAL_AUTH_SHARED_SECRET"); s != "" {
		return s, nil
	}
	if s := getenv("TEST_JWT_SECRET"); s != "" {
		return s, nil
	}
	return "", errors.New("LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET must be set")
}

func userIDs(count int, prefix string, start int, args []string) []string {
	ids := make([]string, count)
	for i := range ids {
		switch {
		case len(args) > 0:
			ids[i] = args[0]
		case count == 1:
			ids[i] = prefix
		default:
			ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
		}
	}
	return ids
}

type tokenSigner struct {
	secret   []byte
	ttl      time.Duration
	audience string
	issuer   string
	now      func() time.Time
}

func (s tokenSigner) sign(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		Issuer:    s.issuer,
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
