package utils

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		path          string
		allowAbsolute bool
		wantErr       bool
		errContains   string
	}{
		{
			name: "valid relative path",
			path: "assets/app.js",
		},
		{
			name:          "valid absolute path when allowed",
			path:          "/srv/www/index.html",
			allowAbsolute: true,
		},
		{
			name:        "absolute path not allowed",
			path:        "/etc/passwd",
			wantErr:     true,
			errContains: "absolute paths not allowed",
		},
		{
			name:        "directory traversal with ..",
			path:        "../../../etc/passwd",
			wantErr:     true,
			errContains: "directory traversal",
		},
		{
			name:        "directory traversal in middle",
			path:        "assets/../../etc/passwd",
			wantErr:     true,
			errContains: "directory traversal",
		},
		{
			name: "dots inside a name are fine",
			path: "assets/app..min.js",
		},
		{
			name:        "empty path",
			path:        "",
			wantErr:     true,
			errContains: "cannot be empty",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePath(tt.path, tt.allowAbsolute)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err, tt.errContains)
			}
		})
	}
}

func TestHasTraversal(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"a/b/c":     false,
		"..":        true,
		"a/../b":    true,
		"a/..b/c":   false,
		"/a/b/../":  true,
		"a/b/c/...": false,
	}
	for in, want := range cases {
		if got := HasTraversal(in); got != want {
			t.Errorf("HasTraversal(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSecureJoin(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	got, err := SecureJoin(base, "assets", "app.js")
	if err != nil {
		t.Fatalf("SecureJoin: %v", err)
	}
	if got != filepath.Join(base, "assets", "app.js") {
		t.Errorf("SecureJoin = %q", got)
	}

	if _, err := SecureJoin(base, "..", "etc"); err == nil {
		t.Error("expected escape to be rejected")
	}
	if _, err := SecureJoin("", "a"); err == nil {
		t.Error("expected empty base to be rejected")
	}

	got, err = SecureJoin(base)
	if err != nil || got != filepath.Clean(base) {
		t.Errorf("SecureJoin(base) = %q, %v", got, err)
	}
}

func TestSecureJoinSlash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base    string
		elems   []string
		want    string
		wantErr bool
	}{
		{base: "site", elems: []string{"css/app.css"}, want: "site/css/app.css"},
		{base: "site/", elems: []string{"/index.html"}, want: "site/index.html"},
		{base: ".", elems: []string{"/img/logo.png"}, want: "img/logo.png"},
		{base: ".", elems: []string{"../secret"}, wantErr: true},
		{base: "site", elems: []string{"../other/x"}, wantErr: true},
		{base: "site", elems: []string{"a/../../x"}, wantErr: true},
		{base: "", elems: []string{"x"}, wantErr: true},
	}

	for _, tt := range tests {
		got, err := SecureJoinSlash(tt.base, tt.elems...)
		if (err != nil) != tt.wantErr {
			t.Errorf("SecureJoinSlash(%q, %v) error = %v, wantErr %v", tt.base, tt.elems, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("SecureJoinSlash(%q, %v) = %q, want %q", tt.base, tt.elems, got, tt.want)
		}
	}
}
