// Package history reads and writes conversation files as JSON or YAML.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HexSleeves/parley/internal/turns"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks a format from the file extension. Anything that is not
// .yaml or .yml is treated as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// file is the wrapped form: {"messages": [...]}. A bare array is accepted too.
type file struct {
	Messages turns.History `json:"messages" yaml:"messages"`
}

// Read loads a history file, choosing the codec by extension. "-" reads JSON
// from stdin.
func Read(path string) (turns.History, error) {
	if path == "-" {
		return Decode(os.Stdin, FormatJSON)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := Decode(f, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// Decode parses a history. Both a bare list of messages and an object with a
// "messages" key are accepted. Role names are normalized to lower case;
// unknown roles are kept so validation can report them.
func Decode(r io.Reader, format Format) (turns.History, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return turns.History{}, nil
	}

	var h turns.History
	switch format {
	case FormatYAML:
		h, err = decodeYAML(data)
	case FormatJSON:
		h, err = decodeJSON(data)
	default:
		return nil, fmt.Errorf("unknown history format %q", format)
	}
	if err != nil {
		return nil, err
	}
	for i := range h {
		if role, err := turns.ParseRole(string(h[i].Role)); err == nil {
			h[i].Role = role
		}
	}
	if h == nil {
		h = turns.History{}
	}
	return h, nil
}

func decodeJSON(data []byte) (turns.History, error) {
	if data[0] == '[' {
		var h turns.History
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return h, nil
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return f.Messages, nil
}

func decodeYAML(data []byte) (turns.History, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var h turns.History
		if err := node.Decode(&h); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		return h, nil
	}
	var f file
	if err := node.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return f.Messages, nil
}

// Write stores h at path in the format its extension implies. "-" writes
// JSON to stdout.
func Write(path string, h turns.History) error {
	if path == "-" {
		return Encode(os.Stdout, h, FormatJSON)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, h, FormatFor(path)); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Encode writes h in the wrapped {"messages": [...]} form.
func Encode(w io.Writer, h turns.History, format Format) error {
	if h == nil {
		h = turns.History{}
	}
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(file{Messages: h}); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(file{Messages: h})
	}
	return fmt.Errorf("unknown history format %q", format)
}
