package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Item is a donated book moving through the review and redemption lifecycle.
type Item struct {
	ID              int64      `json:"id" db:"id"`
	Title           string     `json:"title" db:"title"`
	Author          string     `json:"author" db:"author"`
	ISBN            string     `json:"isbn,omitempty" db:"isbn"`
	Category        string     `json:"category" db:"category"`
	Condition       string     `json:"condition" db:"condition"`
	ReferencePrice  int64      `json:"reference_price" db:"reference_price"`
	RedemptionPrice *int64     `json:"redemption_price,omitempty" db:"redemption_price"`
	Description     string     `json:"description,omitempty" db:"description"`
	Images          []string   `json:"images" db:"-"`
	Status          string     `json:"status" db:"status"`
	DonorID         int64      `json:"donor_id" db:"donor_id"`
	ReviewerID      *int64     `json:"reviewer_id,omitempty" db:"reviewer_id"`
	RedeemerID      *int64     `json:"redeemer_id,omitempty" db:"redeemer_id"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	RedeemedAt      *time.Time `json:"redeemed_at,omitempty" db:"redeemed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Item statuses.
const (
	ItemStatusPending  = "pending"
	ItemStatusApproved = "approved"
	ItemStatusRejected = "rejected"
	ItemStatusRedeemed = "redeemed"
)

// Item conditions.
const (
	ConditionExcellent = "excellent"
	ConditionGood      = "good"
	ConditionFair      = "fair"
	ConditionPoor      = "poor"
)

// Categories lists the accepted item categories in their canonical spelling.
var Categories = []string{
	"Mathematics",
	"Science",
	"English",
	"History",
	"Geography",
	"Computer Science",
	"Physics",
	"Chemistry",
	"Biology",
	"Economics",
	"Other",
}

// Field limits.
const (
	MaxTitleLength       = 200
	MaxAuthorLength      = 100
	MaxDescriptionLength = 1000
	MaxImages            = 5
)

// ValidItemStatus reports whether status is a known item status.
func ValidItemStatus(status string) bool {
	switch status {
	case ItemStatusPending, ItemStatusApproved, ItemStatusRejected, ItemStatusRedeemed:
		return true
	}
	return false
}

// CanTransition reports whether an item may move from one status to another.
// Allowed: pending->approved, pending->rejected, approved->redeemed.
func CanTransition(from, to string) bool {
	switch from {
	case ItemStatusPending:
		return to == ItemStatusApproved || to == ItemStatusRejected
	case ItemStatusApproved:
		return to == ItemStatusRedeemed
	}
	return false
}

// ItemDraft is the validated input for submitting a new item.
type ItemDraft struct {
	Title          string   `json:"title"`
	Author         string   `json:"author"`
	ISBN           string   `json:"isbn"`
	Category       string   `json:"category"`
	Condition      string   `json:"condition"`
	ReferencePrice int64    `json:"reference_price"`
	Description    string   `json:"description"`
	Images         []string `json:"images"`
}

var imageURLPattern = regexp.MustCompile(`(?i)^https?://.+\.(jpg|jpeg|png|webp)$`)

// CanonicalCategory returns the canonical spelling of category, matched
// case-insensitively, and whether it is known.
func CanonicalCategory(category string) (string, bool) {
	fold := cases.Fold()
	key := fold.String(strings.TrimSpace(category))
	for _, c := range Categories {
		if fold.String(c) == key {
			return c, true
		}
	}
	return "", false
}

// Normalize trims whitespace and canonicalizes enumerated fields in place.
func (d *ItemDraft) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Author = strings.TrimSpace(d.Author)
	d.ISBN = normalizeISBN(d.ISBN)
	d.Condition = strings.ToLower(strings.TrimSpace(d.Condition))
	d.Description = strings.TrimSpace(d.Description)
	if c, ok := CanonicalCategory(d.Category); ok {
		d.Category = c
	}
	images := d.Images[:0]
	for _, img := range d.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}
	d.Images = images
}

// Validate checks required fields and limits. Call Normalize first.
func (d *ItemDraft) Validate() error {
	var errs []error

	if d.Title == "" {
		errs = append(errs, errors.New("title is required"))
	} else if utf8.RuneCountInString(d.Title) > MaxTitleLength {
		errs = append(errs, fmt.Errorf("title cannot exceed %d characters", MaxTitleLength))
	}

	if d.Author == "" {
		errs = append(errs, errors.New("author is required"))
	} else if utf8.RuneCountInString(d.Author) > MaxAuthorLength {
		errs = append(errs, fmt.Errorf("author cannot exceed %d characters", MaxAuthorLength))
	}

	if d.Category == "" {
		errs = append(errs, errors.New("category is required"))
	} else if _, ok := CanonicalCategory(d.Category); !ok {
		errs = append(errs, fmt.Errorf("unknown category %q", d.Category))
	}

	switch d.Condition {
	case "":
		errs = append(errs, errors.New("condition is required"))
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
	default:
		errs = append(errs, fmt.Errorf("unknown condition %q", d.Condition))
	}

	if d.ReferencePrice <= 0 {
		errs = append(errs, errors.New("reference_price must be positive"))
	}

	if d.ISBN != "" && !validISBN(d.ISBN) {
		errs = append(errs, errors.New("isbn is not a valid ISBN-10 or ISBN-13"))
	}

	if utf8.RuneCountInString(d.Description) > MaxDescriptionLength {
		errs = append(errs, fmt.Errorf("description cannot exceed %d characters", MaxDescriptionLength))
	}

	if len(d.Images) > MaxImages {
		errs = append(errs, fmt.Errorf("at most %d images are allowed", MaxImages))
	}
	for _, img := range d.Images {
		if !imageURLPattern.MatchString(img) {
			errs = append(errs, fmt.Errorf("invalid image url %q", img))
		}
	}

	return errors.Join(errs...)
}

// normalizeISBN strips an optional "ISBN" prefix, spaces and hyphens.
func normalizeISBN(isbn string) string {
	isbn = strings.TrimSpace(isbn)
	upper := strings.ToUpper(isbn)
	for _, prefix := range []string{"ISBN-13:", "ISBN-10:", "ISBN-13", "ISBN-10", "ISBN:", "ISBN"} {
		if strings.HasPrefix(upper, prefix) {
			isbn = isbn[len(prefix):]
			break
		}
	}
	isbn = strings.NewReplacer("-", "", " ", "").Replace(isbn)
	return strings.ToUpper(isbn)
}

func validISBN(isbn string) bool {
	switch len(isbn) {
	case 10:
		sum := 0
		for i, r := range isbn {
			var v int
			switch {
			case r >= '0' && r <= '9':
				v = int(r - '0')
			case r == 'X' && i == 9:
				v = 10
			default:
				return false
			}
			sum += v * (10 - i)
		}
		return sum%11 == 0
	case 13:
		if !strings.HasPrefix(isbn, "978") && !strings.HasPrefix(isbn, "979") {
			return false
		}
		sum := 0
		for i, r := range isbn {
			if r < '0' || r > '9' {
				return false
			}
			v := int(r - '0')
			if i%2 == 1 {
				v *= 3
			}
			sum += v
		}
		return sum%10 == 0
	}
	return false
}

// ItemFilter narrows an item listing. Zero fields apply no restriction.
type ItemFilter struct {
	Status   string
	DonorID  int64
	Category string

	// VisibleStatuses and VisibleOwner together restrict results to items in
	// one of the statuses or donated by the owner. Both empty means no
	// restriction.
	VisibleStatuses []string
	VisibleOwner    int64
}
