package bitbucket

import "testing"

func TestNew(t *testing.T) {
	client, err := New("user", "app-password")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.bb == nil {
		t.Fatal("expected sdk client")
	}
	if client.username != "user" || client.password != "app-password" {
		t.Fatalf("unexpected credentials on client: %+v", client)
	}
}
