package portal

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/italolelis/dgi_archiver/internal/month"
)

// DefaultURLTemplate points at the DGI Cameroon archive of monthly taxpayer lists.
const DefaultURLTemplate = "https://teledeclaration-dgi.cm/UploadedFiles/AttachedFiles/ArchiveListecontribuable/FICHIER%20{month}%20{year}.xlsx"

const (
	monthPlaceholder = "{month}"
	yearPlaceholder  = "{year}"
)

// Locator derives the portal URL of a month's file.
type Locator struct {
	template string
}

// NewLocator validates the template. It must contain both {month} and {year}
// and expand to an absolute http(s) URL.
func NewLocator(template string) (*Locator, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		template = DefaultURLTemplate
	}

	if !strings.Contains(template, monthPlaceholder) || !strings.Contains(template, yearPlaceholder) {
		return nil, fmt.Errorf("url template %q must contain %s and %s", template, monthPlaceholder, yearPlaceholder)
	}

	l := &Locator{template: template}

	u, err := url.Parse(l.URL(month.New(2000, 1)))
	if err != nil {
		return nil, fmt.Errorf("invalid url template %q: %w", template, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url template %q must be an absolute http(s) url", template)
	}

	return l, nil
}

// URL returns the candidate URL for k.
func (l *Locator) URL(k month.Key) string {
	return strings.NewReplacer(
		monthPlaceholder, k.PortalName(),
		yearPlaceholder, strconv.Itoa(k.Year),
	).Replace(l.template)
}
