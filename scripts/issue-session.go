package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/meetai/meeting-server-go/internal/util"
)

// Prints a bearer token for userID and the SQL that registers its session.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/issue-session.go <user-id> [ttl]\n")
		os.Exit(1)
	}

	userID := os.Args[1]
	ttl := 24 * time.Hour
	if len(os.Args) > 2 {
		d, err := time.ParseDuration(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid ttl: %v\n", err)
			os.Exit(1)
		}
		ttl = d
	}

	token, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("token: %s\n\n", token)
	fmt.Printf("INSERT INTO sessions (id, user_id, token_hash, expires_at) VALUES ('%s', '%s', '%s', '%s');\n",
		uuid.NewString(), userID, util.HashToken(token), time.Now().Add(ttl).UTC().Format(time.RFC3339))
}
