package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadProperties reads flat properties in the .properties format:
// key=value or key: value lines, # and ! comments, backslash line
// continuations and escapes.
func ReadProperties(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	s := bufio.NewScanner(r)

	var (
		line    strings.Builder
		lineNum int
	)

	for s.Scan() {
		lineNum++
		text := s.Text()
		if line.Len() == 0 {
			text = strings.TrimLeft(text, " \t\f")
			if text == "" || text[0] == '#' || text[0] == '!' {
				continue
			}
		} else {
			text = strings.TrimLeft(text, " \t\f")
		}

		if continued(text) {
			line.WriteString(text[:len(text)-1])
			continue
		}

		line.WriteString(text)
		key, value, err := splitProperty(line.String())
		line.Reset()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		props[key] = value
	}

	if err := s.Err(); err != nil {
		return nil, err
	}

	if line.Len() > 0 {
		key, value, err := splitProperty(line.String())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		props[key] = value
	}

	return props, nil
}

// continued tells whether the line ends with an odd number of
// backslashes.
func continued(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}

	return n%2 == 1
}

func splitProperty(line string) (string, string, error) {
	sep := -1
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' {
			i++
			continue
		}

		if c == '=' || c == ':' || c == ' ' || c == '\t' || c == '\f' {
			sep = i
			break
		}
	}

	var key, value string
	if sep < 0 {
		key = line
	} else {
		key = line[:sep]
		rest := line[sep:]
		if rest[0] == '=' || rest[0] == ':' {
			rest = rest[1:]
		} else {
			rest = strings.TrimLeft(rest, " \t\f")
			if rest != "" && (rest[0] == '=' || rest[0] == ':') {
				rest = rest[1:]
			}
		}

		value = strings.TrimLeft(rest, " \t\f")
	}

	k, err := unescape(key)
	if err != nil {
		return "", "", err
	}

	v, err := unescape(value)
	if err != nil {
		return "", "", err
	}

	return k, v, nil
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, "\\") {
		return s, nil
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}

		i++
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			if i+4 >= len(s) {
				return "", fmt.Errorf("invalid unicode escape: %s", s)
			}

			r, err := strconv.ParseUint(s[i+1:i+5], 16, 32)
			if err != nil {
				return "", fmt.Errorf("invalid unicode escape: %s", s)
			}

			b.WriteRune(rune(r))
			i += 4
		default:
			b.WriteByte(s[i])
		}
	}

	return b.String(), nil
}

// ReadPropertiesFiles reads and merges properties files. The later files
// override the earlier ones.
func ReadPropertiesFiles(paths ...string) (map[string]string, error) {
	props := make(map[string]string)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("invalid properties file: %w", err)
		}

		fp, err := ReadProperties(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("invalid properties file %s: %w", p, err)
		}

		for k, v := range fp {
			props[k] = v
		}
	}

	return props, nil
}
