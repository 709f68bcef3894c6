// Package main mints HS256 bearer tokens for local development. Tokens only
// verify against a server running with CB_AUTH_MODE=hmac and the same key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"commandbridge/internal/jwt_token"
	"commandbridge/internal/platform/config"
)

const defaultTokenTTL = time.Hour

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	Email     string            `json:"email"`
	ExpiresIn string            `json:"expires_in"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	email := flag.String("email", "", "Email claim; must match an active user (required)")
	name := flag.String("name", "", "Display name claim")
	ttl := flag.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	issuer := flag.String("issuer", os.Getenv("CB_JWT_ISSUER"), "Issuer claim; must match the server's CB_JWT_ISSUER")
	audience := flag.String("audience", os.Getenv("CB_JWT_AUDIENCE"), "Audience claim; must match the server's CB_JWT_AUDIENCE")
	key := flag.String("key", envOr("CB_JWT_SIGNING_KEY", config.DevSigningKey), "HS256 signing key")
	asJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "tokengen: -email is required")
		flag.Usage()
		os.Exit(2)
	}

	svc := jwt_token.NewHMACService(*key, *issuer, *audience, *ttl)
	token, err := svc.GenerateToken(context.Background(), *email, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}

	if !*asJSON {
		fmt.Println(token)
		return
	}
	out := tokenOutput{
		Token:     token,
		Type:      "Bearer",
		Email:     *email,
		ExpiresIn: ttl.String(),
		Usage: map[string]string{
			"curl": fmt.Sprintf("curl -H 'Authorization: Bearer %s' http://localhost:8080/me", token),
		},
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
