package queue

import (
	"strings"
	"testing"
)

func TestParseWorkspaceName(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"feature-auth", true},
		{"ws.1", true},
		{strings.Repeat("a", 255), true},
		{"", false},
		{strings.Repeat("a", 256), false},
		{"a/b", false},
		{"a\\b", false},
		{"a\x00b", false},
	}
	for _, tc := range cases {
		got, err := ParseWorkspaceName(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseWorkspaceName(%q) err=%v, want ok=%v", tc.in, err, tc.ok)
		}
		if err != nil {
			if !IsValidation(err) {
				t.Fatalf("ParseWorkspaceName(%q) kind=%v, want validation", tc.in, KindOf(err))
			}
			continue
		}
		if got.String() != tc.in {
			t.Fatalf("ParseWorkspaceName(%q) = %q", tc.in, got)
		}
	}
}

func TestParseAgentID(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"agent-1", true},
		{"host:worker.3_a", true},
		{strings.Repeat("x", 128), true},
		{"", false},
		{strings.Repeat("x", 129), false},
		{"agent 1", false},
		{"agent/1", false},
		{"agént", false},
	}
	for _, tc := range cases {
		_, err := ParseAgentID(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseAgentID(%q) err=%v, want ok=%v", tc.in, err, tc.ok)
		}
	}
}

func TestParseTaskID(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"bd-1a2f", true},
		{"bd-0", true},
		{"bd-", false},
		{"1a2f", false},
		{"bd-XYZ", false},
		{"bd-1A", false},
		{"", false},
	}
	for _, tc := range cases {
		_, err := ParseTaskID(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseTaskID(%q) err=%v, want ok=%v", tc.in, err, tc.ok)
		}
	}
}

func TestParsePriority(t *testing.T) {
	if _, err := ParsePriority(-1); !IsValidation(err) {
		t.Fatalf("negative priority accepted: %v", err)
	}
	p, err := ParsePriority(0)
	if err != nil || p != 0 {
		t.Fatalf("ParsePriority(0) = %v, %v", p, err)
	}
	if PriorityHigh >= PriorityDefault || PriorityDefault >= PriorityLow {
		t.Fatal("standard priorities out of order")
	}
}

func TestParseDedupeKey(t *testing.T) {
	if _, err := ParseDedupeKey(""); !IsValidation(err) {
		t.Fatalf("empty dedupe key accepted: %v", err)
	}
	if _, err := ParseDedupeKey("k\x00"); !IsValidation(err) {
		t.Fatal("NUL in dedupe key accepted")
	}
	if _, err := ParseDedupeKey(strings.Repeat("k", 513)); !IsValidation(err) {
		t.Fatal("oversized dedupe key accepted")
	}
	dk, err := ParseDedupeKey("ws-a:queue")
	if err != nil || dk.IsZero() {
		t.Fatalf("ParseDedupeKey: %v", err)
	}
}
