// Package aggregate reduces daily and hourly series collected across baseline
// years into a single monthly summary.
package aggregate

import (
	"math"
	"strings"

	"github.com/resmoray/nomad-weather-map/internal/loaders"
	"github.com/resmoray/nomad-weather-map/internal/models"
)

// Monthly reduces the collected per-year month slices into one summary.
// Temperature, humidity and wind pool every finite daily mean across years;
// temperature min/max are the extremes of that same pool, not extremes of
// per-year extremes. Rainfall sums each year's daily precipitation and
// averages the sums. UV averages the per-day maxima of the hourly series.
// PM2.5, AQI and the wave metrics are plain means of all finite hourly
// values. Empty pools yield nil.
func Monthly(climates []loaders.ClimateMonth, airs []loaders.AirMonth, marines []loaders.MarineMonth) models.MonthlySummary {
	var temp, humidity, wind pool
	var rainfallSums pool
	for _, c := range climates {
		temp.addAll(c.TemperatureMean)
		humidity.addAll(c.HumidityMean)
		wind.addAll(c.WindMean)
		if sum, ok := seriesSum(c.PrecipitationSum); ok {
			rainfallSums.add(sum)
		}
	}

	var uvDayMaxima, pm25, aqi pool
	for _, a := range airs {
		pm25.addAll(a.PM25)
		aqi.addAll(a.AQI)
		for _, dayMax := range dailyMaxima(a.Times, a.UVIndex) {
			uvDayMaxima.add(dayMax)
		}
	}

	var waveHeight, waveDirection, wavePeriod pool
	for _, m := range marines {
		waveHeight.addAll(m.WaveHeight)
		waveDirection.addAll(m.WaveDirection)
		wavePeriod.addAll(m.WavePeriod)
	}

	return models.MonthlySummary{
		TemperatureC:     temp.mean(),
		TemperatureMinC:  temp.minimum(),
		TemperatureMaxC:  temp.maximum(),
		RainfallMm:       rainfallSums.mean(),
		HumidityPct:      humidity.mean(),
		WindKph:          wind.mean(),
		UVIndex:          uvDayMaxima.mean(),
		PM25:             pm25.mean(),
		AQI:              aqi.mean(),
		WaveHeightM:      waveHeight.mean(),
		WavePeriodS:      wavePeriod.mean(),
		WaveDirectionDeg: waveDirection.mean(),
	}
}

// pool accumulates finite samples for mean/min/max reduction.
type pool struct {
	sum   float64
	count int
	min   float64
	max   float64
}

func (p *pool) add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if p.count == 0 || v < p.min {
		p.min = v
	}
	if p.count == 0 || v > p.max {
		p.max = v
	}
	p.sum += v
	p.count++
}

func (p *pool) addAll(s loaders.Series) {
	for _, v := range s {
		if v != nil {
			p.add(*v)
		}
	}
}

func (p *pool) mean() *float64 {
	if p.count == 0 {
		return nil
	}
	return round2(p.sum / float64(p.count))
}

func (p *pool) minimum() *float64 {
	if p.count == 0 {
		return nil
	}
	return round2(p.min)
}

func (p *pool) maximum() *float64 {
	if p.count == 0 {
		return nil
	}
	return round2(p.max)
}

// seriesSum sums the finite values of s. ok is false when no sample exists,
// so a year with no precipitation data contributes nothing to the average.
func seriesSum(s loaders.Series) (float64, bool) {
	var sum float64
	var any bool
	for _, v := range s {
		if v == nil {
			continue
		}
		sum += *v
		any = true
	}
	return sum, any
}

// dailyMaxima groups an hourly series by calendar day ("YYYY-MM-DD" prefix of
// the timestamp) and returns the maximum finite value of each day.
func dailyMaxima(times []string, values loaders.Series) []float64 {
	maxima := map[string]float64{}
	var order []string
	for i, ts := range times {
		if i >= len(values) || values[i] == nil {
			continue
		}
		day := ts
		if idx := strings.IndexByte(ts, 'T'); idx > 0 {
			day = ts[:idx]
		}
		v := *values[i]
		cur, seen := maxima[day]
		if !seen {
			order = append(order, day)
			maxima[day] = v
		} else if v > cur {
			maxima[day] = v
		}
	}
	out := make([]float64, 0, len(order))
	for _, day := range order {
		out = append(out, maxima[day])
	}
	return out
}

// round2 rounds to two decimals.
func round2(v float64) *float64 {
	r := math.Round(v*100) / 100
	return &r
}
