package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/justapithecus/prospector/token"
)

// DefaultTokensFile is the dotenv file checked for API credentials.
const DefaultTokensFile = ".env.tokens"

// maxNumberedTokens bounds the GITHUB_TOKEN_N scan.
const maxNumberedTokens = 64

// LoadCredentials gathers API credentials for the run.
//
// The tokens file (dotenv format) is loaded into the environment first; a
// missing file is not an error, existing environment variables win. The
// environment is then scanned for GITHUB_TOKEN and GITHUB_TOKEN_1 through
// GITHUB_TOKEN_N. Duplicate token values are dropped, keeping the first
// label seen.
func LoadCredentials(tokensFile string) ([]token.Credential, error) {
	if tokensFile == "" {
		tokensFile = DefaultTokensFile
	}
	if err := godotenv.Load(tokensFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot read tokens file %q: %w", tokensFile, err)
	}

	var creds []token.Credential
	seen := make(map[string]struct{})
	add := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, dup := seen[value]; dup {
			return
		}
		seen[value] = struct{}{}
		creds = append(creds, token.Credential{Token: value, Label: label})
	}

	add("GITHUB_TOKEN", os.Getenv("GITHUB_TOKEN"))
	for i := 1; i <= maxNumberedTokens; i++ {
		name := fmt.Sprintf("GITHUB_TOKEN_%d", i)
		add(name, os.Getenv(name))
	}

	return creds, nil
}
