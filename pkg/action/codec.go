package action

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter delimiter line.
const delimiter = "---"

// ErrNoFrontmatter marks a record without a parseable header block. Such
// files are skipped by the lifecycle, never moved or executed.
var ErrNoFrontmatter = errors.New("record has no frontmatter header")

// Decode parses a record: a ----delimited YAML header followed by free
// text. The body keeps its bytes exactly as found after the header block.
func Decode(data []byte) (*Action, error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") {
		return nil, ErrNoFrontmatter
	}

	rest := text[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return nil, ErrNoFrontmatter
	}
	header := rest[:end+1]
	body := rest[end+1+len(delimiter):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	var a Action
	if err := yaml.Unmarshal([]byte(header), &a); err != nil {
		return nil, fmt.Errorf("decoding frontmatter: %w", err)
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.Type == "" {
		a.Type = TypeGeneral
	}
	a.Body = body
	return &a, nil
}

// Encode renders the record back to its file form. Only the header is
// regenerated; the body is appended unchanged.
func (a *Action) Encode() ([]byte, error) {
	header, err := yaml.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding frontmatter for %s: %w", a.ID, err)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	buf.Write(header)
	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(a.Body)
	return buf.Bytes(), nil
}
