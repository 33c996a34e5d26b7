package board

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadWords reads a newline-separated word file. The dictionary is
// opaque to the engine; ordering and casing are preserved as-is.
func LoadWords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open word file: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w != "" {
			words = append(words, w)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read word file: %w", err)
	}
	return words, nil
}
