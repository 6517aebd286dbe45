package fs

import "testing"

func TestMapConfigTypedGetters(t *testing.T) {
	c := MapConfig{
		"hidden_size": 2048,
		"rope_theta":  float32(10000),
		"name":        "tinyllama",
		"tags":        []string{"a", "b"},
		"flag":        true,
	}

	if got := c.Uint("hidden_size"); got != 2048 {
		t.Errorf("Uint(hidden_size) = %d, want 2048", got)
	}
	if got := c.Float("rope_theta"); got != 10000 {
		t.Errorf("Float(rope_theta) = %v, want 10000", got)
	}
	if got := c.String("name"); got != "tinyllama" {
		t.Errorf("String(name) = %q, want tinyllama", got)
	}
	if got := c.Strings("tags"); len(got) != 2 || got[0] != "a" {
		t.Errorf("Strings(tags) = %v", got)
	}
	if !c.Bool("flag") {
		t.Errorf("Bool(flag) = false, want true")
	}
}

func TestMapConfigDefaults(t *testing.T) {
	c := MapConfig{}

	if got := c.Uint("missing", 7); got != 7 {
		t.Errorf("Uint default = %d, want 7", got)
	}
	if got := c.Float("missing", 1.5); got != 1.5 {
		t.Errorf("Float default = %v, want 1.5", got)
	}
	if got := c.String("missing", "x"); got != "x" {
		t.Errorf("String default = %q, want x", got)
	}
	if got := c.Bool("missing", true); !got {
		t.Errorf("Bool default = false, want true")
	}
	if got := c.Uint("missing"); got != 0 {
		t.Errorf("Uint zero-value default = %d, want 0", got)
	}
}

func TestMapConfigWrongType(t *testing.T) {
	c := MapConfig{"hidden_size": "not-a-number"}
	if got := c.Uint("hidden_size", 42); got != 42 {
		t.Errorf("Uint with mismatched type = %d, want fallback 42", got)
	}
}
