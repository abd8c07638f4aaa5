// Command gen-token signs HS256 tokens accepted by taskhub when it runs with
// LOCAL_AUTH_MODE=hs256.
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
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "load-user", "prefix for generated user IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		name   = flag.String("name", "", "display name claim; defaults to the user ID")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
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

	secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
	tokens, err := generateTokens(secret, userIDs(*count, *prefix, *start, args), *name, *ttl, time.Now())
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func userIDs(count int, prefix string, start int, args []string) []string {
	if len(args) > 0 {
		return []string{args[0]}
	}
	if count == 1 {
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return ids
}

func generateTokens(secret string, ids []string, name string, ttl time.Duration, now time.Time) ([]string, error) {
	if secret == "" {
		return nil, errors.New("LOCAL_AUTH_SHARED_SECRET must be set")
	}
	tokens := make([]string, len(ids))
	for i, id := range ids {
		display := name
		if display == "" {
			display = id
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  id,
			"name": display,
			"iat":  now.Unix(),
			"exp":  now.Add(ttl).Unix(),
		})
		signed, err := tok.SignedString([]byte(secret))
		if err != nil {
			return nil, err
		}
		tokens[i] = signed
	}
	return tokens, nil
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
