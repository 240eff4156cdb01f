// Package scraper turns a DownDetector status page into a single report
// count and severity. It owns the result model, the ordered extraction
// strategies, the fetch error taxonomy, and the orchestrator that walks the
// lightweight HTTP tier before falling back to the browser tier.
package scraper
