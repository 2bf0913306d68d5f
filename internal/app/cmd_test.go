package app

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", nil, CommandServe},
		{"serve指定", []string{"serve"}, CommandServe},
		{"healthcheck指定", []string{"healthcheck"}, CommandHealthcheck},
		{"client指定", []string{"client"}, CommandClient},
		{"client指定の追加引数は無視", []string{"client", "topstories"}, CommandClient},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}
