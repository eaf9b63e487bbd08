package main

import "testing"

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1.5, 64 ,-3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v != [3]float64{1.5, 64, -3} {
		t.Fatalf("parse: got %v", v)
	}
	for _, bad := range []string{"", "1,2", "1,2,3,4", "a,b,c"} {
		if _, err := parseVec3(bad); err == nil {
			t.Fatalf("parseVec3(%q): expected error", bad)
		}
	}
}

func TestAdminURL(t *testing.T) {
	if got := adminURL(" http://127.0.0.1:8080/ ", "/admin/v1/state"); got != "http://127.0.0.1:8080/admin/v1/state" {
		t.Fatalf("adminURL: got %s", got)
	}
}
