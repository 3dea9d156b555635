package provider

import (
	"errors"
	"testing"
)

func TestValidateTargetURL(t *testing.T) {
	valid := []string{
		"https://example.com/docs",
		"http://example.com",
		"https://example.com:443/path?x=1",
		"http://example.com:80/",
	}
	for _, rawURL := range valid {
		if _, err := validateTargetURL(rawURL); err != nil {
			t.Errorf("expected %q to be allowed, got %v", rawURL, err)
		}
	}

	blocked := []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"https://localhost/admin",
		"https://foo.localhost/",
		"https://service.internal/",
		"https://printer.local/",
		"https://127.0.0.1/",
		"https://10.0.0.5/",
		"https://192.168.1.1/",
		"https://169.254.169.254/latest/meta-data",
		"https://[::1]/",
		"https://example.com:8080/",
		"not a url",
		"",
	}
	for _, rawURL := range blocked {
		if _, err := validateTargetURL(rawURL); err == nil {
			t.Errorf("expected %q to be rejected", rawURL)
		} else if !errors.Is(err, ErrUnsafeTarget) {
			t.Errorf("expected ErrUnsafeTarget for %q, got %v", rawURL, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"/tmp/../etc/passwd", "passwd"},
		{"..\\..\\evil.exe", "evil.exe"},
		{"weird name!@#.txt", "weirdname.txt"},
		{"...", "artifact"},
		{"", "artifact"},
		{"dir/sub/file.tar.gz", "file.tar.gz"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
