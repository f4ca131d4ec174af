// Command admintoken prints a bearer token for the admin API, signed with the
// configured JWT secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"mathtutor-gateway/internal/config"
	"mathtutor-gateway/internal/pkg/jwtutil"
)

func main() {
	subject := flag.String("subject", "admin", "token subject")
	ttl := flag.Duration("ttl", 0, "token lifetime (default: auth.jwt_expire_minute)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
	}
	token, err := jwtutil.GenerateToken(cfg.Auth.JWTSecret, *subject, jwtutil.RoleAdmin, lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
