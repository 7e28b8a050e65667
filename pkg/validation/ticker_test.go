package validation

import (
	"testing"
)

func TestValidateURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"file uri", "file:///home/user/project/Main.kt", false},
		{"kls scheme", "kls:///jdk/java.base/java/lang/String.class?pos=12", false},
		{"jar scheme", "jar:///repo/lib.jar!/a/B.class", false},

		{"empty", "", true},
		{"no scheme", "/home/user/project/Main.kt", true},
		{"traversal", "file:///home/user/../../etc/passwd", true},
		{"malformed", "file://%zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFQName(t *testing.T) {
	tests := []struct {
		name    string
		fq      string
		wantErr bool
	}{
		{"simple", "com.example.Foo", false},
		{"single segment", "Foo", false},
		{"underscored", "com.example.foo_bar", false},

		{"empty", "", true},
		{"leading digit", "1com.example", true},
		{"sql-ish", "com.example'; DROP TABLE--", true},
		{"too long", string(make([]byte, 260)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFQName(tt.fq)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFQName(%q) error = %v, wantErr %v", tt.fq, err, tt.wantErr)
			}
		})
	}
}

func TestValidateModuleID(t *testing.T) {
	tests := []struct {
		name     string
		moduleID string
		wantErr  bool
	}{
		{"empty is dependency scope", "", false},
		{"simple", "app", false},
		{"with colons", "my-project:lib", false},
		{"special chars", "mod ule!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModuleID(tt.moduleID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateModuleID(%q) error = %v, wantErr %v", tt.moduleID, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeShortName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"passthrough", "doSomething", "doSomething", false},
		{"trimmed", "  doSomething  ", "doSomething", false},
		{"empty rejected", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeShortName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeShortName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeShortName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
