package strikes

import (
	"reflect"
	"testing"
)

func TestSelectWindow_TieGoesToLowerStrike(t *testing.T) {
	w := SelectWindow([]int{24400, 24500, 24600}, 24450, 3, 50)

	if !w.HasATM || w.ATMStrike != 24400 {
		t.Fatalf("ATMStrike = %d (has=%v), want 24400", w.ATMStrike, w.HasATM)
	}
	if !reflect.DeepEqual(w.Displayed, []int{24400, 24500, 24600}) {
		t.Errorf("Displayed = %v", w.Displayed)
	}
}

func TestSelectWindow(t *testing.T) {
	chain := []int{24000, 24050, 24100, 24150, 24200, 24250, 24300, 24350, 24400}

	tests := []struct {
		name       string
		spot       float64
		windowSize int
		wantATM    int
		want       []int
	}{
		{"centered", 24210, 5, 24200, []int{24100, 24150, 24200, 24250, 24300}},
		{"even window", 24210, 4, 24200, []int{24100, 24150, 24200, 24250}},
		{"clamped at low end", 23000, 5, 24000, []int{24000, 24050, 24100, 24150, 24200}},
		{"clamped at high end", 26000, 5, 24400, []int{24300, 24350, 24400}},
		{"window larger than chain", 24210, 50, 24200, chain},
		{"single strike window", 24330, 1, 24350, []int{24350}},
		{"zero window", 24330, 0, 24350, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := SelectWindow(chain, tt.spot, tt.windowSize, 50)
			if w.ATMStrike != tt.wantATM {
				t.Errorf("ATMStrike = %d, want %d", w.ATMStrike, tt.wantATM)
			}
			if !reflect.DeepEqual(w.Displayed, tt.want) {
				t.Errorf("Displayed = %v, want %v", w.Displayed, tt.want)
			}
		})
	}
}

func TestSelectWindow_Empty(t *testing.T) {
	w := SelectWindow(nil, 24500, 10, 50)
	if w.HasATM {
		t.Error("empty chain should not report an ATM strike")
	}
	if w.Displayed == nil || len(w.Displayed) != 0 {
		t.Errorf("Displayed = %#v, want empty slice", w.Displayed)
	}
}

func TestSelectWindow_DoesNotAliasInput(t *testing.T) {
	chain := []int{100, 200, 300}
	w := SelectWindow(chain, 200, 3, 100)
	w.Displayed[0] = -1
	if chain[0] != 100 {
		t.Error("Displayed must not share memory with the input slice")
	}
}

func TestIsNearMoney(t *testing.T) {
	w := SelectWindow([]int{24400, 24450, 24500, 24550, 24600}, 24480, 5, 50)

	tests := map[int]bool{
		24400: false,
		24450: true,
		24500: true,
		24530: true,
		24550: false,
	}
	for strike, want := range tests {
		if got := w.IsNearMoney(strike); got != want {
			t.Errorf("IsNearMoney(%d) = %v, want %v", strike, got, want)
		}
	}
}

func TestNormalizeStrikes(t *testing.T) {
	raw := []float64{24550.0, 24500.0, 24499.95, 0, -50, 24600.05, 24450}
	got := NormalizeStrikes(raw, 50)
	want := []int{24450, 24500, 24550, 24600}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeStrikes() = %v, want %v", got, want)
	}
}
