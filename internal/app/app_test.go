package app

import "testing"

func TestResolveFileType(t *testing.T) {
	cases := []struct {
		declared string
		fileType string
		wantErr  bool
	}{
		{"application/pdf", "pdf", false},
		{"application/pdf; charset=binary", "pdf", false},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "docx", false},
		{"PDF", "pdf", false},
		{".docx", "docx", false},
		{"text/plain", "", true},
		{"", "", true},
		{"application/msword", "", true},
	}
	for _, tc := range cases {
		got, _, err := ResolveFileType(tc.declared)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %q", tc.declared, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.declared, err)
			continue
		}
		if got != tc.fileType {
			t.Errorf("%q: expected %s, got %s", tc.declared, tc.fileType, got)
		}
	}
}
