package gatewayhttp

import "testing"

func TestRequestSchema_Validate(t *testing.T) {
	s, err := newRequestSchema()
	if err != nil {
		t.Fatalf("newRequestSchema() error = %v", err)
	}

	valid := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	if err := s.Validate([]byte(valid)); err != nil {
		t.Errorf("Validate(valid body) error = %v", err)
	}

	cases := map[string]string{
		"missing model":    `{"messages":[{"role":"user"}]}`,
		"missing messages": `{"model":"gpt-4o"}`,
		"empty messages":   `{"model":"gpt-4o","messages":[]}`,
		"bad role":         `{"model":"gpt-4o","messages":[{"role":"admin"}]}`,
		"not json":         `not json at all`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if err := s.Validate([]byte(body)); err == nil {
				t.Errorf("Validate(%q) error = nil, want a validation error", body)
			}
		})
	}
}
