package iproperty

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"iproperty-etl/models"
)

// Listing card selectors. Class names carry generated suffixes, hence the
// substring matches.
const (
	cardSelector      = "li[class*='ListingsListstyle__ListingListItemWrapper']"
	linkSelector      = "a[class*='depth-listing-card-link']"
	agentSelector     = "div[class*='ListingHeadingstyle__HeadingTitle'], div[class*='heading-name']"
	postedSelector    = "p[class*='ListingHeadingstyle__HeadingCreationDate'], p[class*='heading-creation-date']"
	priceSelector     = "li[class*='ListingPricestyle__ItemWrapper'], div[class*='ListingPricestyle__RangePriceWrapper']"
	psfSelector       = "div[class*='ListingPricestyle__PricePSFWrapper']"
	nameSelector      = "h2[class*='PremiumCardstyle__TitleWrapper'], h2[class*='BasicCardstyle__TitleWrapper']"
	locationSelector  = "div[class*='PremiumCardstyle__AddressWrapper'], div[class*='BasicCardstyle__AddressWrapper']"
	attributeSelector = "p[class*='ListingAttributesstyle__ListingAttrsDescriptionItemWrapper']"
	nextPageSelector  = "li[class*='pagination-item'] a[aria-label*='Go to next page']"
)

var (
	attrSplitRegexp = regexp.MustCompile(`\||•`)
	lotTypeRegexp   = regexp.MustCompile(`\|([^•]+)`)
	sqftRegexp      = regexp.MustCompile(`(?i)(?:Built-up|Land\s*area)\s*:\s*(.*?)\s*sq\. ft\.`)
)

// ParseListings extracts every listing card of a rendered results page.
// Values are lower-cased and trimmed; absent values are empty.
func ParseListings(html string, now time.Time) ([]*models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("iproperty: parse page: %w", err)
	}

	createdAt := now.Format(models.TimeLayout)
	var out []*models.RawRecord
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		link, _ := card.Find(linkSelector).First().Attr("href")
		attrs := text(card, attributeSelector)

		out = append(out, &models.RawRecord{
			PageLink:       clean(link),
			Source:         clean(sourceOf(link)),
			AgentName:      clean(text(card, agentSelector)),
			PostedDate:     clean(text(card, postedSelector)),
			HousePrice:     clean(text(card, priceSelector)),
			PricePerSqft:   clean(pricePerSqft(text(card, psfSelector))),
			HouseName:      clean(text(card, nameSelector)),
			HouseLocation:  clean(text(card, locationSelector)),
			HouseType:      clean(houseType(attrs)),
			LotType:        clean(lotType(attrs)),
			SquareFootage:  clean(squareFootage(attrs)),
			HouseFurniture: clean(furniture(attrs)),
			CreatedAt:      createdAt,
		})
	})
	return out, nil
}

// NextPageURL returns the absolute URL behind an enabled "next page" link,
// or "" on the last page.
func NextPageURL(html, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("iproperty: parse page: %w", err)
	}

	next := doc.Find(nextPageSelector).First()
	if next.Length() == 0 {
		return "", nil
	}
	if cls, _ := next.Parent().Attr("class"); strings.Contains(cls, "disabled") {
		return "", nil
	}
	href, ok := next.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("iproperty: page url %q: %w", pageURL, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("iproperty: next link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func text(card *goquery.Selection, selector string) string {
	return strings.TrimSpace(card.Find(selector).First().Text())
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// sourceOf returns the second label of the link host: "iproperty" for
// www.iproperty.com.my.
func sourceOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	labels := strings.Split(u.Hostname(), ".")
	if len(labels) < 2 {
		return ""
	}
	return labels[1]
}

// "(RM 450 psf)" becomes "RM 450".
func pricePerSqft(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return ""
	}
	return strings.TrimLeft(fields[0], "(") + " " + fields[1]
}

func houseType(attrs string) string {
	if attrs == "" {
		return ""
	}
	return strings.TrimSpace(attrSplitRegexp.Split(attrs, 2)[0])
}

func lotType(attrs string) string {
	if m := lotTypeRegexp.FindStringSubmatch(attrs); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func squareFootage(attrs string) string {
	if m := sqftRegexp.FindStringSubmatch(attrs); m != nil {
		return strings.ReplaceAll(m[1], ",", "")
	}
	return ""
}

func furniture(attrs string) string {
	if !strings.Contains(strings.ToLower(attrs), "furnished") {
		return ""
	}
	if i := strings.LastIndex(attrs, "•"); i >= 0 {
		return strings.TrimSpace(attrs[i+len("•"):])
	}
	return strings.TrimSpace(attrs)
}
