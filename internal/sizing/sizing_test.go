package sizing

import (
	"errors"
	"testing"
)

func TestSize(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		want    float64
		wantErr error
	}{
		{
			name:    "budget below one lot fails",
			params:  Params{Balance: 1000, RiskPct: 0.01, Price: 60000, ContractValue: 0.01, StopLossPct: 0.02, LotSize: 1, MinSize: 1},
			wantErr: ErrBelowMinSize,
		},
		{
			name:   "floors to whole lots",
			params: Params{Balance: 10000, RiskPct: 0.01, Price: 60000, ContractValue: 0.01, StopLossPct: 0.02, LotSize: 1, MinSize: 1},
			want:   8, // raw 8.33
		},
		{
			name:   "fractional lot size",
			params: Params{Balance: 1000, RiskPct: 0.01, Price: 60000, ContractValue: 0.01, StopLossPct: 0.02, LotSize: 0.01, MinSize: 0.01},
			want:   0.83,
		},
		{
			name:   "exact multiple survives float noise",
			params: Params{Balance: 300, RiskPct: 0.1, Price: 100, ContractValue: 1, StopLossPct: 0.1, LotSize: 0.1, MinSize: 0.1},
			want:   3,
		},
		{
			name:    "below min size",
			params:  Params{Balance: 1000, RiskPct: 0.01, Price: 60000, ContractValue: 0.01, StopLossPct: 0.02, LotSize: 0.1, MinSize: 1},
			wantErr: ErrBelowMinSize,
		},
		{
			name:    "zero price",
			params:  Params{Balance: 1000, RiskPct: 0.01, ContractValue: 0.01, StopLossPct: 0.02, LotSize: 1},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Size(tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v, expected %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("size=%v, expected %v", got, tt.want)
			}
		})
	}
}

func TestRoundToTick(t *testing.T) {
	if got := RoundToTick(61234.567, 0.1); got != 61234.6 {
		t.Fatalf("RoundToTick=%v", got)
	}
	if got := RoundToTick(3.14159, 0); got != 3.14159 {
		t.Fatalf("zero tick should pass through, got %v", got)
	}
}
