// Command devtoken prints a bearer token for an identity, signed with the
// configured JWT secret. Intended for local development and smoke tests.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"carbon-ledger/config"
	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("CCL_CONFIG"), "path to the config file")
	identity := flag.String("identity", "", "account address the token is issued for (default: the administrator)")
	expiry := flag.Duration("expiry", 0, "token lifetime (default: jwt.expiry)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("loading config: %v", err)
	}
	if cfg.JWT.Secret == "" {
		fail("jwt.secret is empty; set CCL_JWT_SECRET")
	}

	subject := *identity
	if subject == "" {
		subject = cfg.Ledger.AdminID
	}
	id, ok := domain.NormalizeIdentity(subject)
	if !ok {
		fail("%q is not an account address", subject)
	}

	ttl := cfg.JWT.Expiry
	if *expiry > 0 {
		ttl = *expiry
	}

	token, expiresAt, err := service.NewJWTTokenService(cfg.JWT.Secret, ttl, cfg.JWT.Issuer).Generate(id)
	if err != nil {
		fail("signing token: %v", err)
	}
	fmt.Fprintf(os.Stderr, "identity %s, expires %s\n", id, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "devtoken: "+format+"\n", args...)
	os.Exit(1)
}
