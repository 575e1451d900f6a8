package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/eldtechnologies/murmur/internal/auth"
	"github.com/eldtechnologies/murmur/internal/config"
)

// Mints an access token for local testing, signed with the server's secret.
func main() {
	cfg := config.Load()

	userID := flag.Int64("user", 0, "User ID to put in the user_id claim")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	secret := flag.String("secret", cfg.JWTSecret, "HS256 secret (defaults to JWT_SECRET)")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: token -user <id> [-ttl 1h] [-secret <secret>]")
		os.Exit(1)
	}

	token, err := auth.NewJWTAuthenticator(*secret).Issue(*userID, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
