package account

import (
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	serviceerrors "github.com/R3E-Network/access_layer/internal/errors"
)

func TestOpaqueValidator(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"simple", "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", false},
		{"mixed case kept", "0xAbCdEf", false},
		{"empty", "", true},
		{"space", "abc def", true},
		{"newline", "abc\n", true},
		{"too long", strings.Repeat("a", MaxAddressLength+1), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := OpaqueValidator{}.Validate(tc.addr)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tc.addr, err, tc.wantErr)
			}
			if err != nil && !stderrors.Is(err, serviceerrors.ErrInvalidAddress) {
				t.Errorf("Validate(%q) error = %v, want InvalidAddress", tc.addr, err)
			}
		})
	}
}

func TestNeoValidator(t *testing.T) {
	valid := address.Uint160ToString(util.Uint160{1, 2, 3, 4, 5})

	if err := (NeoValidator{}).Validate(valid); err != nil {
		t.Errorf("Validate(%q) error = %v", valid, err)
	}

	// Flipping the last character breaks the checksum.
	last := valid[len(valid)-1]
	replacement := byte('a')
	if last == 'a' {
		replacement = 'b'
	}
	broken := valid[:len(valid)-1] + string(replacement)
	if err := (NeoValidator{}).Validate(broken); !stderrors.Is(err, serviceerrors.ErrInvalidAddress) {
		t.Errorf("Validate(%q) error = %v, want InvalidAddress", broken, err)
	}

	if err := (NeoValidator{}).Validate("not-a-neo-address"); err == nil {
		t.Error("Validate(not-a-neo-address) error = nil")
	}
}

func TestNewValidator(t *testing.T) {
	tests := []struct {
		format  string
		want    Validator
		wantErr bool
	}{
		{"", OpaqueValidator{}, false},
		{"opaque", OpaqueValidator{}, false},
		{"NEO", NeoValidator{}, false},
		{"solana", nil, true},
	}

	for _, tc := range tests {
		got, err := NewValidator(tc.format)
		if (err != nil) != tc.wantErr {
			t.Errorf("NewValidator(%q) error = %v, wantErr %v", tc.format, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("NewValidator(%q) = %T, want %T", tc.format, got, tc.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		want     bool
	}{
		{Disconnected, Connecting, true},
		{Disconnected, Connected, true},
		{Connecting, Connected, true},
		{Connecting, Disconnected, true},
		{Connected, Disconnected, true},
		{Connected, Connecting, false},
		{Connected, Connected, true},
	}

	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusSuspended, StatusDeleted} {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStatus("banned"); err == nil {
		t.Error("ParseStatus(banned) error = nil")
	}
}

func TestParseConnectionState(t *testing.T) {
	for _, c := range []ConnectionState{Disconnected, Connecting, Connected} {
		got, err := ParseConnectionState(c.String())
		if err != nil || got != c {
			t.Errorf("ParseConnectionState(%q) = %v, %v", c.String(), got, err)
		}
	}
	if got, err := ParseConnectionState(" Connected "); err != nil || got != Connected {
		t.Errorf("ParseConnectionState(\" Connected \") = %v, %v", got, err)
	}
	if _, err := ParseConnectionState("online"); err == nil {
		t.Error("ParseConnectionState(online) error = nil")
	}
}

func TestAccount_JSON(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := Account{
		Address:         "alice",
		Balance:         75_000,
		Status:          StatusSuspended,
		ConnectionState: Connected,
		CreatedAt:       created,
		UpdatedAt:       created.Add(time.Minute),
	}

	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"connection_state":"connected"`) {
		t.Errorf("Marshal() = %s, want lowercase connection_state", data)
	}

	var got Account
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got != want {
		t.Errorf("Unmarshal() = %+v, want %+v", got, want)
	}

	if err := json.Unmarshal([]byte(`{"connection_state":"online"}`), &got); err == nil {
		t.Error("Unmarshal(unknown connection_state) error = nil")
	}
}
