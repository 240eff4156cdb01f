package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// Strategy inspects a Document and reports whether it could read it.
type Strategy func(Document) (Reading, bool)

// Severity thresholds applied when the page does not state a status.
const (
	WarningThreshold = 10
	DangerThreshold  = 50
)

var (
	staticStatusRe = regexp.MustCompile(`currentServiceProperties\s*=\s*\{[^}]*status:\s*['"](\w+)['"]`)
	staticPointRe  = regexp.MustCompile(`\{\s*x:\s*['"][^'"]+['"],\s*y:\s*(\d+)\s*\}`)

	textPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d[\d,]*)\s*(?:user\s*)?reports?`),
		regexp.MustCompile(`(?i)reports?\s*[:=]\s*(\d[\d,]*)`),
		regexp.MustCompile(`(?i)(\d[\d,]*)\s*problem`),
	}
)

const noProblemsPhrase = "no current problems"

// PrimaryStrategies is the chain used on raw HTTP responses.
func PrimaryStrategies() []Strategy {
	return []Strategy{StaticProperties, PlainText}
}

// FallbackStrategies is the chain used on live browser snapshots.
func FallbackStrategies() []Strategy {
	return []Strategy{LiveProperties, StaticProperties, ChartGeometry, PlainText}
}

// Extract runs strategies in order and returns the first reading. When none
// match it returns a zero count with StatusUnknown.
func Extract(doc Document, strategies ...Strategy) Reading {
	for _, strategy := range strategies {
		if reading, ok := strategy(doc); ok {
			return reading
		}
	}
	return Reading{Count: 0, Status: StatusUnknown}
}

// Resolve fills in the severity from the count if the strategy left it unknown.
func Resolve(r Reading) Reading {
	if r.Count < 0 {
		r.Count = 0
	}
	if r.Status == StatusUnknown || r.Status == "" {
		r.Status = Classify(r.Count)
	}
	return r
}

// Classify maps a report count to a severity.
func Classify(count int) Status {
	switch {
	case count < WarningThreshold:
		return StatusOK
	case count < DangerThreshold:
		return StatusWarning
	default:
		return StatusDanger
	}
}

// MapStatus translates the site's status token.
func MapStatus(token string) Status {
	switch token {
	case "success":
		return StatusOK
	case "warning":
		return StatusWarning
	case "danger":
		return StatusDanger
	default:
		return StatusUnknown
	}
}

// LiveProperties reads the properties object captured from the running page.
func LiveProperties(doc Document) (Reading, bool) {
	if !doc.Live || doc.Properties == "" || !gjson.Valid(doc.Properties) {
		return Reading{}, false
	}
	props := gjson.Parse(doc.Properties)
	if !props.IsObject() {
		return Reading{}, false
	}
	reading := Reading{Status: MapStatus(props.Get("status").String())}
	points := props.Get("series.reports.data")
	if points.IsArray() {
		items := points.Array()
		if n := len(items); n > 0 {
			y := items[n-1].Get("y")
			if y.Type == gjson.Number && y.Int() > 0 {
				reading.Count = int(y.Int())
			}
		}
	}
	return reading, true
}

// StaticProperties scans raw markup for the embedded properties literal.
func StaticProperties(doc Document) (Reading, bool) {
	if doc.HTML == "" {
		return Reading{}, false
	}
	status := StatusUnknown
	if m := staticStatusRe.FindStringSubmatch(doc.HTML); m != nil {
		status = MapStatus(m[1])
	}
	points := staticPointRe.FindAllStringSubmatch(doc.HTML, -1)
	if len(points) > 0 {
		count, err := strconv.Atoi(points[len(points)-1][1])
		if err == nil {
			return Reading{Count: count, Status: status}, true
		}
	}
	if status == StatusOK {
		return Reading{Count: 0, Status: StatusOK}, true
	}
	return Reading{}, false
}

// ChartGeometry estimates the latest bucket from the rendered chart.
func ChartGeometry(doc Document) (Reading, bool) {
	if !doc.Live || doc.ChartSVG == "" {
		return Reading{}, false
	}
	count, ok := DecodeChart(doc.ChartSVG)
	if !ok {
		return Reading{}, false
	}
	return Reading{Count: count, Status: StatusUnknown}, true
}

// PlainText looks for report counts in the visible page text.
func PlainText(doc Document) (Reading, bool) {
	text := doc.Text
	if text == "" {
		text = VisibleText(doc.HTML)
	}
	if text == "" {
		return Reading{}, false
	}
	if strings.Contains(strings.ToLower(text), noProblemsPhrase) {
		return Reading{Count: 0, Status: StatusOK}, true
	}
	for _, re := range textPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		count, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		return Reading{Count: count, Status: StatusUnknown}, true
	}
	return Reading{}, false
}

// VisibleText returns the body text of an HTML document without script or
// style content.
func VisibleText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		return strings.TrimSpace(doc.Text())
	}
	return strings.Join(strings.Fields(body.Text()), " ")
}
