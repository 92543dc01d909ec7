package features

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Slot names in reference order. The order is a contract with the classifier
// and only changes together with a new manifest version.
var defaultNames = []string{
	"UsingIP", "LongURL", "ShortURL", "Symbol@", "Redirecting//",
	"PrefixSuffix-", "SubDomains", "HTTPS", "Favicon", "NonStdPort",
	"HTTPSDomainURL", "RequestURL", "AnchorURL", "LinksInScriptTags",
	"ServerFormHandler", "StatusBarCust", "DisableRightClick",
	"UsingPopupWindow", "IframeRedirection", "InfoEmail", "AbnormalURL",
	"WebsiteForwarding", "DomainRegLen", "AgeOfDomain", "DNSRecording",
	"WebsiteTraffic", "PageRank", "GoogleIndex", "LinksPointingToPage",
	"SafeBrowsing",
}

// Stage widths in pipeline order.
const (
	LexicalSlots    = 11
	ContentSlots    = 8
	DomainSlots     = 6
	ReputationSlots = 5
)

// Spec is the ordered, immutable list of feature names.
type Spec struct {
	names []string
}

// NewSpec copies names into a Spec.
func NewSpec(names []string) Spec {
	cp := make([]string, len(names))
	copy(cp, names)
	return Spec{names: cp}
}

// DefaultSpec returns the 30-slot reference manifest.
func DefaultSpec() Spec {
	return NewSpec(defaultNames)
}

// LoadSpec reads a manifest with one feature name per line.
func LoadSpec(path string) (Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return Spec{}, ConfigError("manifest", fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()
	return ParseSpec(f)
}

// ParseSpec reads manifest lines from r. Blank lines are skipped; an empty
// manifest is an error.
func ParseSpec(r io.Reader) (Spec, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return Spec{}, ConfigError("manifest", fmt.Errorf("read: %w", err))
	}
	if len(names) == 0 {
		return Spec{}, ConfigError("manifest", errors.New("no feature names"))
	}
	return Spec{names: names}, nil
}

// Len returns the number of slots.
func (s Spec) Len() int { return len(s.names) }

// Name returns the slot name at i, or "" when out of range.
func (s Spec) Name(i int) string {
	if i < 0 || i >= len(s.names) {
		return ""
	}
	return s.names[i]
}

// Names returns a copy of the slot names.
func (s Spec) Names() []string {
	cp := make([]string, len(s.names))
	copy(cp, s.names)
	return cp
}

// Diff describes the first disagreement between s and other, or "" when the
// two manifests are identical.
func (s Spec) Diff(other Spec) string {
	n := min(s.Len(), other.Len())
	for i := 0; i < n; i++ {
		if s.names[i] != other.names[i] {
			return fmt.Sprintf("slot %d: %q != %q", i, s.names[i], other.names[i])
		}
	}
	if s.Len() != other.Len() {
		return fmt.Sprintf("length %d != %d", s.Len(), other.Len())
	}
	return ""
}

// CheckShape verifies that v has exactly as many slots as the manifest.
func CheckShape(s Spec, v Vector) error {
	if len(v) != s.Len() {
		return fmt.Errorf("%w: expected %d, got %d", ErrShapeMismatch, s.Len(), len(v))
	}
	return nil
}
