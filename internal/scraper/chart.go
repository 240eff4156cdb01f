package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var pathNumberRe = regexp.MustCompile(`-?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)

type point struct {
	x, y float64
}

// DecodeChart estimates the most recent value plotted in the report chart.
// The y axis is assumed to span from the baseline (zero reports) at the
// largest y coordinate of the data paths up to the largest tick label at
// y = 0. Grid, axis and tick paths are ignored.
func DecodeChart(svg string) (int, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(svg))
	if err != nil {
		return 0, false
	}
	maxTick, ok := maxTickLabel(doc)
	if !ok {
		return 0, false
	}

	var curve, area []point
	baseline := 0.0
	doc.Find("path").Each(func(_ int, s *goquery.Selection) {
		role := pathRoleOf(s.AttrOr("class", ""))
		if role == roleOther {
			return
		}
		pts := parsePathPoints(s.AttrOr("d", ""))
		if len(pts) == 0 {
			return
		}
		switch role {
		case roleCurve:
			if curve != nil {
				return
			}
			curve = pts
		case roleArea:
			if area != nil {
				return
			}
			area = pts
		}
		for _, p := range pts {
			baseline = math.Max(baseline, p.y)
		}
	})
	if baseline <= 0 {
		return 0, false
	}

	var last point
	switch {
	case curve != nil:
		last = curve[len(curve)-1]
	case area != nil:
		last = topOfRightEdge(area)
	default:
		return 0, false
	}

	value := math.Round(maxTick * (baseline - last.y) / baseline)
	if value < 0 || math.IsNaN(value) {
		value = 0
	}
	return int(value), true
}

type pathRole int

const (
	roleOther pathRole = iota
	roleCurve
	roleArea
)

// decorationTokens mark chart furniture that is drawn with paths but
// carries no data.
var decorationTokens = []string{"grid", "axis", "tick", "tracker", "legend", "crosshair", "plot-band", "plot-line", "navigator"}

// pathRoleOf classifies a path by its class. Series tokens are checked
// before "area" so a class such as "recharts-area-curve" is the curve.
func pathRoleOf(class string) pathRole {
	class = strings.ToLower(class)
	for _, tok := range decorationTokens {
		if strings.Contains(class, tok) {
			return roleOther
		}
	}
	switch {
	case strings.Contains(class, "curve"), strings.Contains(class, "graph"), strings.Contains(class, "line"):
		return roleCurve
	case strings.Contains(class, "area"):
		return roleArea
	default:
		return roleOther
	}
}

func maxTickLabel(doc *goquery.Document) (float64, bool) {
	found := false
	maxTick := 0.0
	doc.Find("text").Each(func(_ int, s *goquery.Selection) {
		raw := strings.ReplaceAll(strings.TrimSpace(s.Text()), ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return
		}
		if !found || v > maxTick {
			maxTick = v
			found = true
		}
	})
	return maxTick, found && maxTick > 0
}

// parsePathPoints reads the coordinate pairs of an absolute path.
func parsePathPoints(d string) []point {
	nums := pathNumberRe.FindAllString(d, -1)
	pts := make([]point, 0, len(nums)/2)
	for i := 0; i+1 < len(nums); i += 2 {
		x, errX := strconv.ParseFloat(nums[i], 64)
		y, errY := strconv.ParseFloat(nums[i+1], 64)
		if errX != nil || errY != nil {
			return nil
		}
		pts = append(pts, point{x: x, y: y})
	}
	return pts
}

// topOfRightEdge skips the closing baseline segment of a filled area.
func topOfRightEdge(pts []point) point {
	best := pts[0]
	for _, p := range pts[1:] {
		if p.x > best.x || (p.x == best.x && p.y < best.y) {
			best = p
		}
	}
	return best
}
