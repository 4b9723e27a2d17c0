// Package diffstat summarizes `git diff --numstat` output.
package diffstat

import (
	"strconv"
	"strings"
)

// Parse returns the number of files and the total added plus deleted lines
// in numstat text. Rows with fewer than three tab-separated fields are
// skipped. Binary entries ("-" counts) add a file but no lines.
func Parse(numstat string) (files, loc int) {
	for _, line := range strings.Split(numstat, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 3 {
			continue
		}
		files++
		loc += count(fields[0]) + count(fields[1])
	}
	return files, loc
}

func count(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
