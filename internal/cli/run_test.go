package cli

import "testing"

func TestParseEnvFlags(t *testing.T) {
	env, err := parseEnvFlags([]string{"API_KEY=secret", "EMPTY=", "URL=http://x?a=b"})
	if err != nil {
		t.Fatalf("parseEnvFlags: %v", err)
	}
	if env["API_KEY"] != "secret" || env["EMPTY"] != "" || env["URL"] != "http://x?a=b" {
		t.Errorf("env = %v", env)
	}

	for _, bad := range []string{"NOVALUE", "=value"} {
		if _, err := parseEnvFlags([]string{bad}); err == nil {
			t.Errorf("parseEnvFlags(%q) accepted, want error", bad)
		}
	}

	if env, err := parseEnvFlags(nil); err != nil || env != nil {
		t.Errorf("parseEnvFlags(nil) = (%v, %v), want (nil, nil)", env, err)
	}
}
