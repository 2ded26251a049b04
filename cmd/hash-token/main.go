package main

import (
	"fmt"
	"log"
	"os"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const minTokenLength = 16

func main() {
	fmt.Fprint(os.Stderr, "Write token: ")
	token, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		log.Fatalf("Failed to read token: %v", err)
	}
	fmt.Fprintln(os.Stderr) // New line after hidden input

	if len(token) < minTokenLength {
		log.Fatalf("Token must be at least %d characters long", minTokenLength)
	}

	fmt.Fprint(os.Stderr, "Repeat token: ")
	repeat, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		log.Fatalf("Failed to read token: %v", err)
	}
	fmt.Fprintln(os.Stderr)

	if string(token) != string(repeat) {
		log.Fatal("Tokens do not match")
	}

	hash, err := bcrypt.GenerateFromPassword(token, bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash token: %v", err)
	}

	// Only the hash goes to stdout so it can be redirected into an env file
	fmt.Printf("WRITE_TOKEN_HASH=%s\n", hash)
}
