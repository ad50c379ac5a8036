// Package extractor turns listing-page HTML into race records.
package extractor

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/law-makers/racecrawl/pkg/models"
	"github.com/rs/zerolog/log"
)

// BlockSelectors locate listing blocks, tried in order; the first selector
// with at least one match wins.
var BlockSelectors = []string{
	"div.list-item",
	"div.race-item",
	"tr.race",
	`div[data-type="race"]`,
}

// FieldFunc resolves one field inside a listing block, returning "" when the
// block does not carry it.
type FieldFunc func(block *goquery.Selection) string

// DateChain, NameChain and LocationChain are tried in order per block.
var (
	DateChain = []FieldFunc{
		bySelector("div.date"),
		bySelector("span.date"),
		bySelector("td.date"),
		byClassContaining("date"),
	}
	NameChain = []FieldFunc{
		bySelector("a.thick"),
		bySelector("a.race-name"),
		bySelector("h3"),
		bySelector("h4"),
		bySelector(`a[href*="/race/"]`),
	}
	LocationChain = []FieldFunc{
		bySelector("div.location"),
		bySelector("span.location"),
		bySelector("td.location"),
		byClassContaining("location"),
	}
)

// raceLinkSelector counts candidate race links when no block matched.
const raceLinkSelector = `a[href*="/race/"]`

var (
	stateAbbrev = regexp.MustCompile(`([A-Z]{2})(?:\s|$)`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

// Extract parses content and returns the races found, in document order.
// An empty result means the page held no listing blocks.
func Extract(content string) []models.Race {
	return ExtractFrom(strings.NewReader(content))
}

// ExtractFrom is Extract over a reader.
func ExtractFrom(r io.Reader) []models.Race {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to parse listing HTML")
		return []models.Race{}
	}
	return ExtractDocument(doc)
}

// ExtractDocument extracts races from an already parsed document.
func ExtractDocument(doc *goquery.Document) []models.Race {
	blocks, selector := findBlocks(doc.Selection)
	races := []models.Race{}
	if blocks == nil {
		log.Warn().Msg("No race items found with standard selectors")
		log.Debug().
			Int("race_links", doc.Find(raceLinkSelector).Length()).
			Msg("Candidate race links on page")
		return races
	}

	skipped := 0
	blocks.Each(func(i int, block *goquery.Selection) {
		race, err := parseBlock(block)
		if err != nil {
			skipped++
			log.Debug().Err(err).Int("block", i).Msg("Skipping race item")
			return
		}
		races = append(races, race)
	})

	log.Debug().
		Str("selector", selector).
		Int("blocks", blocks.Length()).
		Int("races", len(races)).
		Int("skipped", skipped).
		Msg("Extraction completed")
	return races
}

// HasListings reports whether content holds at least one listing block.
// Unlike Extract it does not log.
func HasListings(content string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return false
	}
	blocks, _ := findBlocks(doc.Selection)
	return blocks != nil
}

func findBlocks(root *goquery.Selection) (*goquery.Selection, string) {
	for _, sel := range BlockSelectors {
		if found := root.Find(sel); found.Length() > 0 {
			return found, sel
		}
	}
	return nil, ""
}

// parseBlock resolves all three fields of one block. A panic in a field
// function is turned into an error so one bad block cannot end the page.
func parseBlock(block *goquery.Selection) (race models.Race, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while parsing block: %v", r)
		}
	}()

	date := firstOf(block, DateChain)
	if date == "" {
		return race, fmt.Errorf("no date")
	}
	name := firstOf(block, NameChain)
	if name == "" {
		return race, fmt.Errorf("no name")
	}
	location := firstOf(block, LocationChain)
	if location == "" {
		location = locationFallback(block, name)
	}
	if location == "" {
		return race, fmt.Errorf("no location")
	}

	return models.Race{Date: date, Name: name, Location: location}, nil
}

func firstOf(block *goquery.Selection, chain []FieldFunc) string {
	for _, fn := range chain {
		if v := fn(block); v != "" {
			return v
		}
	}
	return ""
}

// locationFallback looks for a state abbreviation in the block text and, if
// one is present, takes whatever follows the last occurrence of the name.
func locationFallback(block *goquery.Selection, name string) string {
	text := block.Text()
	if !stateAbbrev.MatchString(text) {
		return ""
	}
	flat := Clean(text)
	if i := strings.LastIndex(flat, name); i >= 0 {
		flat = flat[i+len(name):]
	}
	return Clean(flat)
}

func bySelector(selector string) FieldFunc {
	return func(block *goquery.Selection) string {
		return Clean(block.Find(selector).First().Text())
	}
}

func byClassContaining(fragment string) FieldFunc {
	fragment = strings.ToLower(fragment)
	return func(block *goquery.Selection) string {
		match := block.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			class, _ := s.Attr("class")
			return strings.Contains(strings.ToLower(class), fragment)
		})
		return Clean(match.First().Text())
	}
}

// Clean trims s and collapses internal whitespace runs to one space.
func Clean(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
