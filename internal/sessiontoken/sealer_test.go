package sessiontoken

import (
	"errors"
	"testing"
)

type flow struct {
	State string `json:"state"`
	Nonce string `json:"nonce"`
}

func TestSealOpen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	token, err := s.Seal(flow{State: "s1", Nonce: "n1"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	var got flow
	if err := s.Open(token, &got); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.State != "s1" || got.Nonce != "n1" {
		t.Errorf("unexpected %+v", got)
	}

	again, _ := s.Seal(flow{State: "s1", Nonce: "n1"})
	if again == token {
		t.Error("tokens must use a fresh nonce")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key, _ := GenerateKey()
	s, _ := NewSealer(key)
	token, _ := s.Seal(flow{State: "s1"})

	b := []byte(token)
	i := len(b) / 2
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	var got flow
	if err := s.Open(string(b), &got); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered token: got %v", err)
	}
	if err := s.Open("not base64 !", &got); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: got %v", err)
	}
	if err := s.Open("", &got); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token: got %v", err)
	}

	otherKey, _ := GenerateKey()
	other, _ := NewSealer(otherKey)
	if err := other.Open(token, &got); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign key: got %v", err)
	}
}

func TestNewSealerKeySize(t *testing.T) {
	if _, err := NewSealer(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}
