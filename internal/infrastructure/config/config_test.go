package config

import "testing"

func TestValidateRejectsMissingTokenWithoutAnonymousMode(t *testing.T) {
	cfg := &Config{Upstream: UpstreamConfig{AnonymousToken: false, Token: ""}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a non-anonymous setup with no token")
	}
}

func TestValidateAllowsAnonymousModeWithoutToken(t *testing.T) {
	cfg := &Config{Upstream: UpstreamConfig{AnonymousToken: true, Token: ""}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected anonymous mode to be valid without a token, got %v", err)
	}
}

func TestValidateAllowsExplicitToken(t *testing.T) {
	cfg := &Config{Upstream: UpstreamConfig{AnonymousToken: false, Token: "secret"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected an explicit token to satisfy validation, got %v", err)
	}
}
