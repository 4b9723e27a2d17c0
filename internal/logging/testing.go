package logging

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger whose entries are kept in memory for assertions.
// Every level, including Trace, is recorded.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a recording logger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns the entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// AssertLogged fails tb unless an entry at level has a message containing substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if t.observed.FilterLevelExact(level).FilterMessageSnippet(substr).Len() > 0 {
		return
	}
	tb.Errorf("no %v entry containing %q; got %s", level, substr, t.summary())
}

// AssertField fails tb unless an entry whose message contains msg carries
// key with the given value. Values are compared by their printed form so
// solve ids, stages and statuses can be passed as plain strings.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, entry := range t.FilterMessage(msg).All() {
		if got, ok := entry.ContextMap()[key]; ok && fmt.Sprint(got) == fmt.Sprint(want) {
			return
		}
	}
	tb.Errorf("no entry %q with %s=%v; got %s", msg, key, want, t.summary())
}

// AssertNoValue fails tb if value appears in any message or field.
func (t *TestLogger) AssertNoValue(tb testing.TB, value string) {
	tb.Helper()
	if value == "" {
		return
	}
	for _, entry := range t.observed.All() {
		if strings.Contains(entry.Message, value) {
			tb.Errorf("entry %q leaks value in its message", entry.Message)
		}
		for key, v := range entry.ContextMap() {
			if strings.Contains(fmt.Sprint(v), value) {
				tb.Errorf("entry %q leaks value in field %q", entry.Message, key)
			}
		}
	}
}

// credentialPatterns match forge tokens and credentials embedded in URLs.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{8,}`),
	regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
}

// credentialKeys are field names that must only ever hold redacted values.
var credentialKeys = []string{"token", "secret", "password", "credential", "authorization"}

// AssertNoSecrets fails tb if a recorded entry carries something that looks
// like a GitHub token, a bearer header or a URL with userinfo, or if a field
// named like a credential holds an unredacted string.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		t.checkText(tb, entry.Message, "message of "+entry.Message)
		for _, field := range entry.Context {
			if field.Type != zapcore.StringType {
				continue
			}
			t.checkText(tb, field.String, "field "+field.Key)
			key := strings.ToLower(field.Key)
			for _, k := range credentialKeys {
				if strings.Contains(key, k) && field.String != "" && !strings.HasPrefix(field.String, "[REDACTED") {
					tb.Errorf("field %q holds an unredacted value", field.Key)
				}
			}
		}
	}
}

func (t *TestLogger) checkText(tb testing.TB, s, where string) {
	tb.Helper()
	for _, re := range credentialPatterns {
		if re.MatchString(s) {
			tb.Errorf("credential-like text in %s", where)
		}
	}
}

func (t *TestLogger) summary() string {
	var b strings.Builder
	for i, entry := range t.observed.All() {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%v %q", entry.Level, entry.Message)
	}
	if b.Len() == 0 {
		return "no entries"
	}
	return b.String()
}
