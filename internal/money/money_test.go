package money

import (
	"encoding/json"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"whole euros", "400", 40000},
		{"with cents", "149.50", 14950},
		{"fifty cents", "0.50", 50},
		{"one cent", "0.01", 1},
		{"single decimal", "1.5", 150},
		{"no leading zero", ".99", 99},
		{"leading zeros", "007.50", 750},
		{"large amount", "9999999.99", 999999999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, "EUR")
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if got.Amount != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Amount, tt.expected)
			}
			if got.Currency != "EUR" {
				t.Errorf("Parse(%q) currency = %q, want EUR", tt.input, got.Currency)
			}
		})
	}
}

func TestParse_InvalidAmounts(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"negative", "-1.00"},
		{"plus sign", "+1.00"},
		{"double dot", "1.2.3"},
		{"letters", "12a.00"},
		{"three decimals", "1.005"},
		{"just dot", "."},
		{"overflow", "99999999999999999999.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input, "EUR"); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestParse_CurrencyNormalization(t *testing.T) {
	m, err := Parse("10.00", " eur ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if m.Currency != "EUR" {
		t.Errorf("currency = %q, want EUR", m.Currency)
	}

	for _, bad := range []string{"", "EU", "EURO", "E1R"} {
		if _, err := Parse("10.00", bad); err == nil {
			t.Errorf("Parse with currency %q succeeded, want error", bad)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		amount   int64
		expected string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{50, "0.50"},
		{40000, "400.00"},
		{14950, "149.50"},
		{999999999, "9999999.99"},
	}

	for _, tt := range tests {
		m := Money{Amount: tt.amount, Currency: "EUR"}
		if got := m.Format(); got != tt.expected {
			t.Errorf("Format(%d) = %q, want %q", tt.amount, got, tt.expected)
		}
	}
}

func TestSplitBps(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		bps      int64
		wantFee  int64
		wantRest int64
	}{
		{"five percent of 400", 40000, 500, 2000, 38000},
		{"rounds fee down", 999, 500, 49, 950},
		{"one cent", 1, 500, 0, 1},
		{"zero bps", 40000, 0, 0, 40000},
		{"full amount", 40000, 10000, 40000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Money{Amount: tt.amount, Currency: "EUR"}
			fee, rest := m.SplitBps(tt.bps)
			if fee.Amount != tt.wantFee {
				t.Errorf("fee = %d, want %d", fee.Amount, tt.wantFee)
			}
			if rest.Amount != tt.wantRest {
				t.Errorf("rest = %d, want %d", rest.Amount, tt.wantRest)
			}
			if fee.Amount+rest.Amount != tt.amount {
				t.Errorf("fee+rest = %d, does not reassemble %d", fee.Amount+rest.Amount, tt.amount)
			}
		})
	}
}

func TestAdd_CurrencyMismatch(t *testing.T) {
	eur := MustNew(100, "EUR")
	usd := MustNew(100, "USD")

	if _, err := eur.Add(usd); err != ErrCurrencyMismatch {
		t.Errorf("Add across currencies = %v, want ErrCurrencyMismatch", err)
	}

	sum, err := eur.Add(MustNew(250, "EUR"))
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if sum.Amount != 350 {
		t.Errorf("sum = %d, want 350", sum.Amount)
	}
}

func TestMulInt(t *testing.T) {
	rate := MustNew(12050, "EUR") // 120.50 per night
	total, err := rate.MulInt(3)
	if err != nil {
		t.Fatalf("MulInt returned error: %v", err)
	}
	if total.Amount != 36150 {
		t.Errorf("total = %d, want 36150", total.Amount)
	}

	if _, err := rate.MulInt(-1); err == nil {
		t.Error("MulInt(-1) succeeded, want error")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	m := MustNew(38000, "EUR")
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(data) != `{"amount":"380.00","currency":"EUR"}` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if back != m {
		t.Errorf("round trip = %+v, want %+v", back, m)
	}
}
