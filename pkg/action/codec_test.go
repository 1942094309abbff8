package action

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleRecord = `---
id: email_1756000000_a1b2c3
action: email
status: pending
created: 2026-08-24T10:00:00Z
expires: 2026-08-25T10:00:00Z
priority: normal
to: client@example.com
subject: Q1 Report Attached
flags: []
reasoning: Routine report delivery.
---

Hi,

Please find the Q1 report attached.

Best regards
`

func TestDecode(t *testing.T) {
	a, err := Decode([]byte(sampleRecord))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if a.ID != "email_1756000000_a1b2c3" {
		t.Errorf("id = %q", a.ID)
	}
	if a.Type != TypeEmail {
		t.Errorf("type = %q, want email", a.Type)
	}
	if a.Status != StatusPending {
		t.Errorf("status = %q, want pending", a.Status)
	}
	if a.To != "client@example.com" {
		t.Errorf("to = %q", a.To)
	}
	if a.Created.IsZero() || a.Expires.IsZero() {
		t.Error("timestamps should be parsed")
	}
	if !strings.HasPrefix(a.Body, "Hi,\n") {
		t.Errorf("body = %q, want text after frontmatter", a.Body)
	}
}

func TestEncodeRewritesHeaderPreservesBody(t *testing.T) {
	a, err := Decode([]byte(sampleRecord))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	a.Status = StatusExecuted
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a.MarkExecuted(&ExecutionResult{
		Status:  "executed",
		Type:    TypeEmail,
		To:      a.To,
		Message: "Email sent successfully (simulated)",
	}, at)

	out, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	b, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode(encoded) error = %v", err)
	}
	if b.Status != StatusExecuted {
		t.Errorf("status = %q, want executed", b.Status)
	}
	if b.ExecutedAt == nil || !b.ExecutedAt.Equal(at) {
		t.Errorf("executed_at = %v, want %v", b.ExecutedAt, at)
	}
	if b.ExecutionResult == nil || b.ExecutionResult.Message != "Email sent successfully (simulated)" {
		t.Errorf("execution_result = %+v", b.ExecutionResult)
	}
	if b.Body != a.Body {
		t.Errorf("body changed across header rewrite:\n got %q\nwant %q", b.Body, a.Body)
	}
}

func TestEncodeDecodeStable(t *testing.T) {
	a, err := Decode([]byte(sampleRecord))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	first, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	b, err := Decode(first)
	if err != nil {
		t.Fatalf("Decode(first) error = %v", err)
	}
	second, err := b.Encode()
	if err != nil {
		t.Fatalf("second Encode() error = %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("encode/decode not stable:\nfirst:  %q\nsecond: %q", first, second)
	}
}

func TestDecodeWithoutFrontmatter(t *testing.T) {
	for _, raw := range []string{
		"just some text",
		"--- not a real delimiter",
		"---\nid: x\nno closing delimiter",
	} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrNoFrontmatter) {
			t.Errorf("Decode(%q) error = %v, want ErrNoFrontmatter", raw, err)
		}
	}
}

func TestDecodeDefaults(t *testing.T) {
	raw := "---\nid: task_1_abc\n---\n\nbody text"
	a, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("status = %q, want pending default", a.Status)
	}
	if a.Type != TypeGeneral {
		t.Errorf("type = %q, want general default", a.Type)
	}
	if a.Body != "body text" {
		t.Errorf("body = %q", a.Body)
	}
}

func TestDecodePreservesLeadingBlankBody(t *testing.T) {
	// Header block, separator blank line, then a body whose first line is
	// intentionally blank.
	raw := "---\nid: task_1_abc\n---\n\n\nStarts after a blank line\n"
	a, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if a.Body != "\nStarts after a blank line\n" {
		t.Errorf("body = %q, want the leading blank line kept", a.Body)
	}

	out, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.HasSuffix(string(out), "---\n\n\nStarts after a blank line\n") {
		t.Errorf("encoded = %q, want the blank line back on disk", out)
	}

	b, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode(encoded) error = %v", err)
	}
	if b.Body != a.Body {
		t.Errorf("body changed across header rewrite: %q -> %q", a.Body, b.Body)
	}
}

func TestDecodeMalformedYAML(t *testing.T) {
	raw := "---\nid: [unclosed\n---\n\nbody"
	if _, err := Decode([]byte(raw)); err == nil {
		t.Error("Decode() should fail on malformed YAML header")
	}
}
