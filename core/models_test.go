package core

import (
	"testing"
)

func TestFields_Clone(t *testing.T) {
	tests := []struct {
		name string
		in   Fields
		want Fields
	}{
		{"nil", nil, Fields{}},
		{"empty", Fields{}, Fields{}},
		{"values", Fields{"name": "Alex", "age": 3}, Fields{"name": "Alex", "age": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clone()
			if got == nil {
				t.Fatal("Clone() returned nil")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Clone() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("Clone()[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestFields_CloneIsIndependent(t *testing.T) {
	in := Fields{"name": "Alex"}
	out := in.Clone()
	out["name"] = "Jake"

	if in["name"] != "Alex" {
		t.Errorf("Clone() shares storage with source")
	}
}
