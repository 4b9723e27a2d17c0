// Package services builds the components shared by every solvd process.
//
// Build opens the store, selects the sandbox provider, loads the secrets
// allowlist, creates the GitHub client, the sandbox pipeline, the event
// publisher and the orchestrator, and returns them as a Registry. The HTTP
// daemon, the MCP stdio server and the Temporal worker differ only in what
// they put in front of it.
package services
