package pipeline

import "strings"

// manifest is a dependency manifest solvd knows how to install and test.
type manifest struct {
	file    string
	install string
	test    string
}

// manifests is ordered: the first one found supplies the default test
// command.
var manifests = []manifest{
	{file: "go.mod", install: "go mod download", test: "go test ./..."},
	{file: "package.json", install: "npm install --no-audit --no-fund", test: "npm test"},
	{file: "requirements.txt", install: "python -m pip install -r requirements.txt", test: "python -m pytest -q"},
	{file: "pyproject.toml", install: "python -m pip install -e .", test: "python -m pytest -q"},
}

// detectManifestsCmd lists the known manifests present in the repo root.
func detectManifestsCmd() string {
	names := make([]string, 0, len(manifests))
	for _, m := range manifests {
		names = append(names, m.file)
	}
	return "cd " + repoDir + " && for f in " + strings.Join(names, " ") +
		`; do if [ -f "$f" ]; then echo "$f"; fi; done`
}

// parseManifests maps the detection output back to manifests, keeping
// declaration order.
func parseManifests(out string) []manifest {
	present := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		present[strings.TrimSpace(line)] = true
	}
	var found []manifest
	for _, m := range manifests {
		if present[m.file] {
			found = append(found, m)
		}
	}
	return found
}

// testCommand picks the configured command, else the first manifest's.
func testCommand(configured string, found []manifest) string {
	if configured != "" {
		return configured
	}
	if len(found) > 0 {
		return found[0].test
	}
	return ""
}
