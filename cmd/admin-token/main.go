// Command admin-token prints a bearer token for the admin replay endpoint.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"qrmenu-billing/internal/config"
	"qrmenu-billing/internal/infra/api"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	subject := flag.String("sub", "operator", "token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to admin.token_ttl)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lifetime := cfg.Admin.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	tok, err := api.NewAdminAuth(cfg.Admin.JWTSecret, lifetime).Mint(*subject)
	if err != nil {
		log.Fatalf("mint: %v", err)
	}
	fmt.Println(tok)
	log.Printf("expires at %s", time.Now().Add(lifetime).Format(time.RFC3339))
}
