package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/set-night/dealhunter/internal/domain"
	"github.com/shopspring/decimal"
)

// Canonical field names.
const (
	FieldID            = "id"
	FieldName          = "name"
	FieldPrice         = "price"
	FieldOriginalPrice = "original_price"
	FieldDiscount      = "discount_percent"
	FieldRating        = "rating"
	FieldReviewCount   = "review_count"
	FieldStore         = "store"
	FieldCategory      = "category"
	FieldURL           = "url"
	FieldImageURL      = "image_url"
	FieldEmoji         = "emoji"
)

// FieldAliases lists, per canonical field, the raw keys consulted in order.
// The first key present with a non-empty value wins.
var FieldAliases = map[string][]string{
	FieldID:            {"id", "product_id", "nm_id", "sku", "article"},
	FieldName:          {"name", "title", "product_name"},
	FieldPrice:         {"price", "sale_price", "current_price", "final_price"},
	FieldOriginalPrice: {"original_price", "old_price", "regular_price", "price_before_discount"},
	FieldDiscount:      {"discount_percent", "discount", "sale_percent"},
	FieldRating:        {"rating", "stars", "review_rating"},
	FieldReviewCount:   {"review_count", "reviews", "feedbacks", "reviews_count"},
	FieldStore:         {"store", "shop", "marketplace"},
	FieldCategory:      {"category", "category_name"},
	FieldURL:           {"url", "link", "product_url"},
	FieldImageURL:      {"image_url", "image", "picture", "thumbnail"},
	FieldEmoji:         {"emoji"},
}

const maxRating = 5.0

// Lookup resolves a canonical field against the alias table.
func Lookup(raw domain.RawRecord, field string) (any, bool) {
	for _, key := range FieldAliases[field] {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// Normalize converts one raw source record into a canonical Listing. index is
// the position of the record in its batch and only used for error reporting.
func Normalize(source string, index int, raw domain.RawRecord) (domain.Listing, error) {
	nameVal, ok := Lookup(raw, FieldName)
	name := strings.TrimSpace(toString(nameVal))
	if !ok || name == "" {
		return domain.Listing{}, &domain.NormalizationError{Source: source, Index: index, Field: FieldName}
	}

	priceVal, hasPrice := Lookup(raw, FieldPrice)
	origVal, hasOrig := Lookup(raw, FieldOriginalPrice)
	if !hasPrice && !hasOrig {
		return domain.Listing{}, &domain.NormalizationError{Source: source, Index: index, Field: FieldPrice}
	}

	price := toCurrency(priceVal)
	original := toCurrency(origVal)
	discount := toPercent(lookupValue(raw, FieldDiscount))

	switch {
	case hasPrice && hasOrig:
		if price > original {
			original = price
		}
		if original > 0 {
			discount = int((original - price) * 100 / original)
		}
	case hasPrice:
		original = price
		if discount > 0 && discount < 100 && price > 0 {
			original = price * 100 / int64(100-discount)
		} else if price > 0 {
			discount = 0
		}
	default:
		price = original
		if discount > 0 && discount < 100 && original > 0 {
			price = original * int64(100-discount) / 100
		} else if original > 0 {
			discount = 0
		}
	}

	l := domain.Listing{
		Name:            name,
		Price:           price,
		OriginalPrice:   original,
		DiscountPercent: discount,
		Rating:          toRating(lookupValue(raw, FieldRating)),
		ReviewCount:     toCount(lookupValue(raw, FieldReviewCount)),
		Store:           strings.TrimSpace(toString(lookupValue(raw, FieldStore))),
		Category:        strings.TrimSpace(toString(lookupValue(raw, FieldCategory))),
		URL:             strings.TrimSpace(toString(lookupValue(raw, FieldURL))),
		ImageURL:        strings.TrimSpace(toString(lookupValue(raw, FieldImageURL))),
		Emoji:           strings.TrimSpace(toString(lookupValue(raw, FieldEmoji))),
	}
	if l.Store == "" {
		l.Store = source
	}

	rawID := strings.TrimSpace(toString(lookupValue(raw, FieldID)))
	switch {
	case rawID != "":
	case l.URL != "":
		rawID = l.URL
	default:
		rawID = name
	}
	l.ID = source + ":" + rawID

	return l, nil
}

func lookupValue(raw domain.RawRecord, field string) any {
	v, _ := Lookup(raw, field)
	return v
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// toNumber parses numbers and number-like strings ("1 299,50 ₽"). ok is false
// for anything that does not contain a usable number.
func toNumber(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case float32:
		return floatDecimal(float64(t))
	case float64:
		return floatDecimal(t)
	case json.Number:
		return parseDecimalString(t.String())
	case string:
		return parseDecimalString(t)
	default:
		return decimal.Zero, false
	}
}

func floatDecimal(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func parseDecimalString(s string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == ',':
			b.WriteRune('.')
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '\'':
			// thousands separators
		case unicode.IsLetter(r) || unicode.IsSymbol(r) || r == '%':
			// currency and unit markers
		default:
			return decimal.Zero, false
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if strings.Count(cleaned, ".") > 1 {
		// "1.299.000" is grouping; "1.299,50" keeps its last separator as the decimal point
		last := strings.LastIndex(cleaned, ".")
		if len(cleaned)-last-1 == 3 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned[:last], ".", "") + cleaned[last:]
		}
	}
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func toCurrency(v any) int64 {
	d, ok := toNumber(v)
	if !ok || d.IsNegative() {
		return 0
	}
	return d.IntPart()
}

func toPercent(v any) int {
	d, ok := toNumber(v)
	if !ok || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return 0
	}
	return int(d.IntPart())
}

func toRating(v any) float64 {
	d, ok := toNumber(v)
	if !ok {
		return 0
	}
	f := d.InexactFloat64()
	if f < 0 || f > maxRating {
		return 0
	}
	return f
}

func toCount(v any) int {
	d, ok := toNumber(v)
	if !ok || d.IsNegative() {
		return 0
	}
	if !d.LessThan(decimal.NewFromInt(math.MaxInt32)) {
		return 0
	}
	return int(d.IntPart())
}
