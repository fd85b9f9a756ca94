package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/coursegate/coursegate/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/keygen/main.go <email> [token]")
		fmt.Println("Mints a session token for the given email and prints the hash for config.yaml")
		os.Exit(1)
	}

	email := os.Args[1]

	var token string
	if len(os.Args) > 2 {
		token = os.Args[2]
	} else {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
			os.Exit(1)
		}
		token = "cg_" + hex.EncodeToString(raw)
	}

	fmt.Printf("Email: %s\n", email)
	fmt.Printf("Token: %s\n", token)
	fmt.Printf("SHA-256 Hash: %s\n", auth.HashToken(token))
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("  auth:\n")
	fmt.Printf("    tokens:\n")
	fmt.Printf("      - token_hash: \"%s\"\n", auth.HashToken(token))
	fmt.Printf("        email: \"%s\"\n", email)
}
