package engine

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadDictionary parses a token dictionary in the AFL/libFuzzer format: one
// entry per line, the value in double quotes, optionally preceded by a name
// and '='. Values may contain \\, \", and \xNN escapes. Blank lines and
// lines starting with '#' are ignored.
func LoadDictionary(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open dictionary %s: %w", path, err)
	}
	defer f.Close()

	var tokens [][]byte
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tok, err := parseDictLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		tokens = append(tokens, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read dictionary %s: %w", path, err)
	}
	return tokens, nil
}

func parseDictLine(line string) ([]byte, error) {
	start := strings.Index(line, "\"")
	if start < 0 {
		return nil, fmt.Errorf("missing opening quote in %q", line)
	}

	var out []byte
	i := start + 1
	for i < len(line) {
		c := line[i]
		switch c {
		case '"':
			return out, nil
		case '\\':
			if i+1 >= len(line) {
				return nil, fmt.Errorf("trailing backslash in %q", line)
			}
			next := line[i+1]
			switch next {
			case '\\', '"':
				out = append(out, next)
				i += 2
			case 'x':
				if i+3 >= len(line) {
					return nil, fmt.Errorf("truncated hex escape in %q", line)
				}
				v, err := strconv.ParseUint(line[i+2:i+4], 16, 8)
				if err != nil {
					return nil, fmt.Errorf("bad hex escape in %q", line)
				}
				out = append(out, byte(v))
				i += 4
			default:
				return nil, fmt.Errorf("unknown escape \\%c in %q", next, line)
			}
		default:
			out = append(out, c)
			i++
		}
	}
	return nil, fmt.Errorf("missing closing quote in %q", line)
}
