// cmd/root_test.go
package cmd

import "testing"

func TestRootCommand_Metadata(t *testing.T) {
	if rootCmd.Use != "badgecore" {
		t.Errorf("Use = %q, want badgecore", rootCmd.Use)
	}
	if rootCmd.RunE == nil {
		t.Error("root command has no RunE")
	}
}

func TestRootCommand_Flags(t *testing.T) {
	cases := []struct {
		name string
		def  string
	}{
		{"dir", "/mnt/rec"},
		{"device", "-1"},
		{"sim", "false"},
		{"debug", "false"},
	}
	for _, tc := range cases {
		f := rootCmd.PersistentFlags().Lookup(tc.name)
		if f == nil {
			t.Errorf("flag %q not registered", tc.name)
			continue
		}
		if f.DefValue != tc.def {
			t.Errorf("flag %q default = %q, want %q", tc.name, f.DefValue, tc.def)
		}
	}
}
