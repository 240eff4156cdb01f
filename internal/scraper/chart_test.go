package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const chartSVG = `<svg width="600" height="240">
  <g class="y-axis"><text>0</text><text>50</text><text>100</text></g>
  <g class="x-axis"><text>10:00</text><text>12:00</text></g>
  <path class="area" d="M0,200 L100,150 L200,100 L200,200 L0,200 Z"></path>
  <path class="curve" d="M0,200 L100,150 L200,100"></path>
</svg>`

func TestDecodeChartPrefersCurve(t *testing.T) {
	t.Parallel()

	count, ok := DecodeChart(chartSVG)
	require.True(t, ok)
	// baseline 200, last y 100, top tick 100 -> 50
	require.Equal(t, 50, count)
}

func TestDecodeChartAreaOnly(t *testing.T) {
	t.Parallel()

	svg := `<svg><text>40</text>
  <path class="chart-area" d="M0,100 C10,80 20,80 30,75 L30,100 L0,100 Z"></path></svg>`
	count, ok := DecodeChart(svg)
	require.True(t, ok)
	require.Equal(t, 10, count)
}

func TestDecodeChartRejectsIncompleteCharts(t *testing.T) {
	t.Parallel()

	_, ok := DecodeChart(`<svg><path class="curve" d="M0,10 L5,5"></path></svg>`)
	require.False(t, ok, "no tick labels")

	_, ok = DecodeChart(`<svg><text>10</text><path class="axis-domain" d="M0,10 L5,5"></path></svg>`)
	require.False(t, ok, "no data path")

	_, ok = DecodeChart("")
	require.False(t, ok)
}

func TestChartGeometryOnlyForLiveDocuments(t *testing.T) {
	t.Parallel()

	_, ok := ChartGeometry(Document{ChartSVG: chartSVG})
	require.False(t, ok)

	reading, ok := ChartGeometry(Document{Live: true, ChartSVG: chartSVG})
	require.True(t, ok)
	require.Equal(t, Reading{Count: 50, Status: StatusUnknown}, reading)
}

func TestDecodeChartSkipsGridlinesBeforeSeries(t *testing.T) {
	t.Parallel()

	svg := `<svg>
  <g class="highcharts-grid"><path class="highcharts-grid-line" d="M 0 50 L 300 50"></path></g>
  <path class="highcharts-axis-line" d="M 0 100 L 300 100"></path>
  <path class="highcharts-tick" d="M 300 100 L 300 110"></path>
  <path class="highcharts-graph" d="M 0 100 L 150 90 L 300 75"></path>
  <text>0</text><text>100</text>
</svg>`
	count, ok := DecodeChart(svg)
	require.True(t, ok)
	// baseline 100 from the series, last y 75 -> 25
	require.Equal(t, 25, count)
}

func TestDecodeChartAreaCurveClassIsSeries(t *testing.T) {
	t.Parallel()

	svg := `<svg><text>0</text><text>20</text>
  <path class="recharts-area-area" d="M0,80 L50,60 L100,40 L100,100 L0,100 Z"></path>
  <path class="recharts-area-curve" d="M0,80 L50,60 L100,40"></path></svg>`
	count, ok := DecodeChart(svg)
	require.True(t, ok)
	// baseline 100 from the filled area, curve ends at y 40 -> 12
	require.Equal(t, 12, count)
}

func TestPathRoleOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		class string
		want  pathRole
	}{
		{"highcharts-graph", roleCurve},
		{"recharts-line-curve", roleCurve},
		{"recharts-area-curve", roleCurve},
		{"chart-area", roleArea},
		{"highcharts-grid-line", roleOther},
		{"x-axis-line", roleOther},
		{"highcharts-tick", roleOther},
		{"highcharts-tracker-line", roleOther},
		{"", roleOther},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, pathRoleOf(tc.class), tc.class)
	}
}
