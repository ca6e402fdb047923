package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

type listFlag struct {
	sep     string
	allowed map[string]bool
	value   string
	values  []string
}

func newListFlag(sep string, allowed ...string) *listFlag {
	lf := &listFlag{
		sep:     sep,
		allowed: make(map[string]bool),
	}

	for _, a := range allowed {
		lf.allowed[a] = true
	}

	return lf
}

func commaListFlag(allowed ...string) *listFlag {
	return newListFlag(",", allowed...)
}

func (lf *listFlag) validate() error {
	if len(lf.allowed) == 0 {
		return nil
	}

	for _, v := range lf.values {
		if !lf.allowed[v] {
			return fmt.Errorf("value not allowed: %s", v)
		}
	}

	return nil
}

func (lf *listFlag) Set(value string) error {
	if lf == nil {
		return nil
	}

	if value == "" {
		lf.value = ""
		lf.values = nil
		return nil
	}

	lf.value = value
	lf.values = strings.Split(value, lf.sep)
	for i := range lf.values {
		lf.values[i] = strings.TrimSpace(lf.values[i])
	}

	return lf.validate()
}

func (lf *listFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var values []string
	if err := unmarshal(&values); err != nil {
		return err
	}

	lf.values = values
	lf.value = strings.Join(values, lf.sep)
	return lf.validate()
}

func (lf *listFlag) String() string {
	if lf == nil {
		return ""
	}

	return lf.value
}

// fileListFlag collects the paths of a repeatable flag. In YAML, it
// accepts a single path or a list.
type fileListFlag []string

var errEmptyPath = errors.New("empty path")

func (ff *fileListFlag) add(paths ...string) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			return errEmptyPath
		}

		*ff = append(*ff, filepath.Clean(p))
	}

	return nil
}

func (ff *fileListFlag) Set(value string) error {
	return ff.add(value)
}

func (ff *fileListFlag) UnmarshalYAML(unmarshal func(any) error) error {
	var paths []string
	if err := unmarshal(&paths); err != nil {
		var single string
		if unmarshal(&single) != nil {
			return err
		}

		paths = []string{single}
	}

	*ff = nil
	return ff.add(paths...)
}

func (ff *fileListFlag) String() string {
	if ff == nil {
		return ""
	}

	return strings.Join(*ff, ",")
}
