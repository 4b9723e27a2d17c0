// Package secrets scrubs credentials out of text before it is persisted or
// logged. Known values (such as the token injected into a sandbox) are
// replaced verbatim; everything else is found with the Gitleaks rule set.
package secrets
