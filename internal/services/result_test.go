package services

import "testing"

func TestPeekResult(t *testing.T) {
	env := peekResult([]byte(`{"total_patents":3,"first_expiration":"2030-01-01","patents":[{"title":"t","country":"BR"}],"extra":"ignored"}`))
	if env.TotalPatents != 3 || env.FirstExpiration != "2030-01-01" || len(env.Patents) != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if env := peekResult(nil); env.TotalPatents != 0 {
		t.Fatalf("nil payload must yield a zero envelope, got %+v", env)
	}
	if env := peekResult([]byte("not json at all")); env.TotalPatents != 0 || env.Patents != nil {
		t.Fatalf("malformed payload must yield a zero envelope, got %+v", env)
	}
}

func TestSnippets(t *testing.T) {
	env := resultEnvelope{Patents: []resultPatent{
		{Title: "T", PublicationNumber: "BR1", Country: "BR", Status: "active", ExpirationDate: "2030-01-01"},
		{}, // no text at all
	}}
	got := env.snippets()
	if len(got) != 1 {
		t.Fatalf("snippets = %d; want empty patents skipped", len(got))
	}
	want := "T | BR1 | BR | status: active | expires: 2030-01-01"
	if got[0] != want {
		t.Errorf("snippet = %q; want %q", got[0], want)
	}
}
