package model

import "testing"

// TestKindFromContentType tests content-type classification.
func TestKindFromContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		want        Kind
	}{
		{"text/html", KindPage},
		{"TEXT/HTML", KindPage},
		{"text/html; charset=utf-8", KindPage},
		{"application/xhtml+xml", KindPage},
		{"text/css", KindStyle},
		{"text/javascript", KindScript},
		{"application/javascript", KindScript},
		{"application/x-javascript", KindScript},
		{"image/png", KindImage},
		{"image/svg+xml", KindImage},
		{"application/pdf", KindDownload},
		{"font/woff2", KindDownload},
		{"", KindUnknown},
		{"   ", KindUnknown},
	}

	for _, tt := range tests {
		if got := KindFromContentType(tt.contentType); got != tt.want {
			t.Errorf("KindFromContentType(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

// TestKindPolicies verifies which kinds are extracted and rewritten.
func TestKindPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind        Kind
		str         string
		rewritable  bool
		extractable bool
	}{
		{KindUnknown, "unknown", false, false},
		{KindPage, "page", true, true},
		{KindStyle, "style", true, true},
		{KindScript, "script", false, false},
		{KindImage, "image", false, false},
		{KindDownload, "download", false, false},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.str {
			t.Errorf("%v.String() = %q, want %q", tt.kind, got, tt.str)
		}
		if got := tt.kind.Rewritable(); got != tt.rewritable {
			t.Errorf("%v.Rewritable() = %v, want %v", tt.kind, got, tt.rewritable)
		}
		if got := tt.kind.Extractable(); got != tt.extractable {
			t.Errorf("%v.Extractable() = %v, want %v", tt.kind, got, tt.extractable)
		}
	}
}
