package analysis

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"sort"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Chart titles double as the image names in the upload response.
const (
	AgeDistributionChart = "Age Distribution of Policyholders"
	MaritalStatusChart   = "Marital Status Breakdown of Policyholders"
	OccupationChart      = "Most Common Occupations Among Policyholders"
)

var errNoValues = errors.New("no finite values to plot")

const (
	histogramBins = 20
	jpegQuality   = 90
)

var pieColors = []drawing.Color{
	drawing.ColorFromHex("87ceeb"),
	drawing.ColorFromHex("ffa500"),
	drawing.ColorFromHex("008000"),
	drawing.ColorFromHex("ff0000"),
}

// Bin is one histogram bucket covering [Low, High).
type Bin struct {
	Low   float64
	High  float64
	Count int
}

// Histogram splits values into n equal-width bins between their min and max.
// The last bin is closed on the right so the maximum is counted. NaN and
// infinite values are ignored.
func Histogram(values []float64, n int) []Bin {
	if n <= 0 {
		return nil
	}
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return nil
	}
	values = finite

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !(lo < hi) {
		return []Bin{{Low: lo, High: hi, Count: len(values)}}
	}

	width := (hi - lo) / float64(n)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Low = lo + float64(i)*width
		bins[i].High = lo + float64(i+1)*width
	}
	for _, v := range values {
		i := int((v - lo) / width)
		if i < 0 {
			i = 0
		}
		if i >= n {
			i = n - 1
		}
		bins[i].Count++
	}
	return bins
}

// Count is a category and its number of occurrences.
type Count struct {
	Label string
	N     int
}

// ValueCounts tallies non-empty values, most frequent first. Ties keep
// alphabetical order.
func ValueCounts(values []string) []Count {
	tally := make(map[string]int)
	for _, v := range values {
		if v == "" {
			continue
		}
		tally[v]++
	}
	counts := make([]Count, 0, len(tally))
	for label, n := range tally {
		counts = append(counts, Count{Label: label, N: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].N != counts[j].N {
			return counts[i].N > counts[j].N
		}
		return counts[i].Label < counts[j].Label
	})
	return counts
}

func renderAgeHistogram(ages []float64) ([]byte, error) {
	bins := Histogram(ages, histogramBins)
	if len(bins) == 0 {
		return nil, errNoValues
	}
	bars := make([]chart.Value, len(bins))
	maxCount := 0
	for i, b := range bins {
		bars[i] = chart.Value{Value: float64(b.Count), Label: fmt.Sprintf("%.0f", b.Low)}
		if b.Count > maxCount {
			maxCount = b.Count
		}
	}

	graph := chart.BarChart{
		Title:      AgeDistributionChart,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		Width:      1000,
		Height:     500,
		BarWidth:   36,
		BarSpacing: 8,
		XAxis:      chart.Style{FontSize: 8},
		YAxis: chart.YAxis{
			Name:  "Frequency",
			Range: &chart.ContinuousRange{Min: 0, Max: niceMax(maxCount)},
		},
		Bars: bars,
	}
	return renderJPEG(graph.Render)
}

func renderMaritalPie(statuses []string) ([]byte, error) {
	counts := ValueCounts(statuses)
	total := 0
	for _, c := range counts {
		total += c.N
	}

	values := make([]chart.Value, len(counts))
	for i, c := range counts {
		values[i] = chart.Value{
			Value: float64(c.N),
			Label: fmt.Sprintf("%s %.1f%%", c.Label, 100*float64(c.N)/float64(total)),
			Style: chart.Style{FillColor: pieColors[i%len(pieColors)]},
		}
	}

	graph := chart.PieChart{
		Title:  MaritalStatusChart,
		Width:  600,
		Height: 600,
		Values: values,
	}
	return renderJPEG(graph.Render)
}

func renderOccupationBars(occupations []string) ([]byte, error) {
	counts := ValueCounts(occupations)
	bars := make([]chart.Value, len(counts))
	for i, c := range counts {
		bars[i] = chart.Value{Value: float64(c.N), Label: c.Label}
	}

	graph := chart.BarChart{
		Title:      OccupationChart,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 60}},
		Width:      1200,
		Height:     500,
		BarSpacing: 12,
		XAxis:      chart.Style{FontSize: 8, TextRotationDegrees: 45},
		YAxis: chart.YAxis{
			Name:  "Number of Policyholders",
			Range: &chart.ContinuousRange{Min: 0, Max: niceMax(counts[0].N)},
		},
		Bars: bars,
	}
	return renderJPEG(graph.Render)
}

// renderJPEG runs a go-chart renderer into PNG and transcodes the result to
// JPEG, matching the data URI type the client expects.
func renderJPEG(render func(chart.RendererProvider, io.Writer) error) ([]byte, error) {
	var pngBuf bytes.Buffer
	if err := render(chart.PNG, &pngBuf); err != nil {
		return nil, err
	}
	img, err := png.Decode(&pngBuf)
	if err != nil {
		return nil, fmt.Errorf("decode chart png: %w", err)
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode chart jpeg: %w", err)
	}
	return out.Bytes(), nil
}

// EncodeImage base64-encodes image bytes for the JSON response.
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func niceMax(n int) float64 {
	if n <= 0 {
		return 1
	}
	return math.Ceil(float64(n) * 1.1)
}
