package logging

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/solvd/internal/config"
)

const redactedValue = "[REDACTED]"

// secretField renders a config.Secret as its length only.
type secretField struct {
	key string
	val config.Secret
}

func (s secretField) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// Secret logs that a credential is present without its value.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, secretField{key: key, val: val})
}

// RepoURL logs a repository URL with any userinfo removed, so a clone URL
// carrying a token can be logged safely. Unparseable input is redacted.
func RepoURL(key, raw string) zap.Field {
	u, err := url.Parse(raw)
	if err != nil {
		return zap.String(key, redactedValue)
	}
	u.User = nil
	return zap.String(key, u.String())
}

// redactionRules is the compiled form of a RedactionConfig.
type redactionRules struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func compileRules(cfg RedactionConfig) (*redactionRules, error) {
	r := &redactionRules{keys: make(map[string]struct{}, len(cfg.Fields))}
	if !cfg.Enabled {
		return r, nil
	}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactionRules) sensitive(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// mask replaces pattern matches in s and keeps the surrounding text, so
// stage diagnostics stay readable.
func (r *redactionRules) mask(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedValue)
	}
	return s
}

// RedactingEncoder masks sensitive keys and token-shaped values before the
// wrapped encoder sees them.
type RedactingEncoder struct {
	zapcore.Encoder
	rules *redactionRules
}

// NewRedactingEncoder wraps base with the rules of cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	rules, err := compileRules(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, rules: rules}, nil
}

// EncodeEntry masks the message and the string fields of one entry.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message = e.rules.mask(ent.Message)
	masked := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case e.rules.sensitive(f.Key):
			masked[i] = zap.String(f.Key, redactedValue)
		case f.Type == zapcore.StringType:
			f.String = e.rules.mask(f.String)
			masked[i] = f
		default:
			masked[i] = f
		}
	}
	return e.Encoder.EncodeEntry(ent, masked)
}

// The Add* overrides cover fields attached with Logger.With, which zap
// encodes into the clone ahead of EncodeEntry.

func (e *RedactingEncoder) AddString(key, val string) {
	if e.rules.sensitive(key) {
		val = redactedValue
	}
	e.Encoder.AddString(key, e.rules.mask(val))
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone implements zapcore.Encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}
