package mirror

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     Mirror
		wantErr  bool
		errMatch string
	}{
		{
			name:  "simple URL with default priority",
			input: "https://mirror.example.com/core/os/x86_64",
			want:  Mirror{URL: "https://mirror.example.com/core/os/x86_64", Priority: DefaultPriority},
		},
		{
			name:  "URL with explicit priority",
			input: "priority=50:https://backup.example.com/core/os/x86_64",
			want:  Mirror{URL: "https://backup.example.com/core/os/x86_64", Priority: 50},
		},
		{
			name:  "URL with priority 0",
			input: "priority=0:https://lowest.example.com/",
			want:  Mirror{URL: "https://lowest.example.com/", Priority: 0},
		},
		{
			name:  "URL with port",
			input: "http://localhost:8080/core",
			want:  Mirror{URL: "http://localhost:8080/core", Priority: DefaultPriority},
		},
		{
			name:  "S3 bucket",
			input: "priority=10:s3://packages/core/os/x86_64",
			want:  Mirror{URL: "s3://packages/core/os/x86_64", Priority: 10},
		},
		{
			name:  "local directory",
			input: "file:///srv/repo/core",
			want:  Mirror{URL: "file:///srv/repo/core", Priority: DefaultPriority},
		},
		{
			name:  "whitespace trimmed",
			input: "  https://mirror.example.com/  ",
			want:  Mirror{URL: "https://mirror.example.com/", Priority: DefaultPriority},
		},
		// Error cases
		{name: "empty", input: "", wantErr: true, errMatch: "empty mirror URL"},
		{name: "whitespace only", input: "   ", wantErr: true, errMatch: "empty mirror URL"},
		{name: "missing colon", input: "priority=50", wantErr: true, errMatch: "missing colon"},
		{name: "bad priority", input: "priority=abc:https://m.example.com/", wantErr: true, errMatch: "invalid priority"},
		{name: "negative priority", input: "priority=-1:https://m.example.com/", wantErr: true, errMatch: "non-negative"},
		{name: "empty URL after priority", input: "priority=50:", wantErr: true, errMatch: "empty mirror URL"},
		{name: "ftp scheme", input: "ftp://m.example.com/", wantErr: true, errMatch: "scheme"},
		{name: "no host", input: "https:///core", wantErr: true, errMatch: "host"},
		{name: "no scheme", input: "mirror.example.com/core", wantErr: true, errMatch: "scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got nil", tt.input)
				}
				if tt.errMatch != "" && !strings.Contains(err.Error(), tt.errMatch) {
					t.Errorf("Parse(%q) error = %q, want error containing %q", tt.input, err.Error(), tt.errMatch)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAll(t *testing.T) {
	got, err := ParseAll([]string{
		"https://primary.example.com/",
		"priority=50:https://backup.example.com/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Priority != 50 {
		t.Errorf("got %+v", got)
	}

	if _, err := ParseAll(nil); err == nil {
		t.Error("expected error for empty list")
	}
	if _, err := ParseAll([]string{"https://ok.example.com/", "bogus"}); err == nil {
		t.Error("expected error for invalid entry")
	}
}

func TestMirror_String(t *testing.T) {
	m := Mirror{URL: "https://mirror.example.com/", Priority: 50}
	got, err := Parse(m.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}
