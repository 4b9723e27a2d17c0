package secrets

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist holds content patterns that are never treated as secrets.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// LoadAllowlist reads a Gitleaks-style allowlist file:
//
//	[allowlist]
//	regexes = ['''example-token-[0-9]+''']
//	stopwords = ["dummy"]
//
// An empty path or a missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, err
	}

	var file struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid content pattern '%s' in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Regexes:   file.Allowlist.Regexes,
		StopWords: file.Allowlist.StopWords,
	}, nil
}
