package models

import "testing"

func f(v float64) *float64 { return &v }

// TestValidate verifies plausibility range checks per field.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		summary MonthlySummary
		wantErr bool
	}{
		{
			name:    "all nil is valid",
			summary: MonthlySummary{},
			wantErr: false,
		},
		{
			name: "typical tropical month",
			summary: MonthlySummary{
				TemperatureC:    f(28.4),
				TemperatureMinC: f(24.1),
				TemperatureMaxC: f(33.9),
				RainfallMm:      f(212.5),
				HumidityPct:     f(81),
				WindKph:         f(12.3),
				UVIndex:         f(9.8),
				PM25:            f(18.2),
				AQI:             f(52),
				WaveHeightM:     f(0.7),
				WavePeriodS:     f(6.1),
				WaveDirectionDeg: f(112),
			},
			wantErr: false,
		},
		{
			name:    "temperature below range",
			summary: MonthlySummary{TemperatureC: f(-120)},
			wantErr: true,
		},
		{
			name:    "humidity above range",
			summary: MonthlySummary{HumidityPct: f(101)},
			wantErr: true,
		},
		{
			name:    "aqi above range",
			summary: MonthlySummary{AQI: f(612)},
			wantErr: true,
		},
		{
			name:    "wave height above range",
			summary: MonthlySummary{WaveHeightM: f(31)},
			wantErr: true,
		},
		{
			name:    "boundary values valid",
			summary: MonthlySummary{TemperatureC: f(-80), HumidityPct: f(100), AQI: f(500), WaveHeightM: f(30)},
			wantErr: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.summary.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

// TestSuppressMarine verifies wave fields are cleared without touching others.
func TestSuppressMarine(t *testing.T) {
	s := MonthlySummary{
		TemperatureC: f(20),
		WaveHeightM:  f(1.2),
		WavePeriodS:  f(8),
		WaveDirectionDeg: f(270),
	}
	s.SuppressMarine()
	if s.HasMarine() {
		t.Error("expected wave fields cleared")
	}
	if s.TemperatureC == nil || *s.TemperatureC != 20 {
		t.Error("non-marine field was modified")
	}
}

// TestHasData verifies detection of all-null summaries.
func TestHasData(t *testing.T) {
	var s MonthlySummary
	if s.HasData() {
		t.Error("empty summary reported data")
	}
	s.PM25 = f(5)
	if !s.HasData() {
		t.Error("summary with pm25 reported no data")
	}
}
