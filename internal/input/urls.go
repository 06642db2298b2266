// Package input reads the newline-delimited URL list a run fetches.
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const maxLineBytes = 1 << 20

// ReadURLs returns one URL per non-blank line of r, in order. Lines starting
// with '#' are comments. Duplicates are kept; each line is its own task.
func ReadURLs(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

// Open reads URLs from path, or from stdin when path is empty or "-".
func Open(path string) ([]string, error) {
	if path == "" || path == "-" {
		return ReadURLs(os.Stdin)
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied input path
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file
	return ReadURLs(f)
}
