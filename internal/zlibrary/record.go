package zlibrary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Sentinels substituted for missing scalar fields so callers never see an
// absent value.
const (
	UnknownTitle    = "Unknown Title"
	UnknownYear     = "Unknown Year"
	UnknownLanguage = "Unknown"
	UnknownRating   = "N/A"
)

// Record is the normalized view of one library search hit. All fields are
// plain strings; the remote reference needed to fetch the full record later
// is kept opaque and is never serialized.
type Record struct {
	ID          string
	Title       string
	AuthorsText string
	Year        string
	Language    string
	Extension   string
	SizeText    string
	RatingText  string
	URL         string
	CoverURL    string

	ref remoteRef
}

// HasCover reports whether the record carries a cover image URL.
func (r Record) HasCover() bool {
	return r.CoverURL != ""
}

// remoteRef locates the full record on the remote service without
// re-searching. Valid only as long as the ResultSet entry that holds it.
type remoteRef struct {
	bookID string
	href   string
}

func (ref remoteRef) empty() bool {
	return ref.bookID == "" && ref.href == ""
}

// FullRecord is a Record resolved to its downloadable form.
type FullRecord struct {
	Record
	DownloadURL string
	Description string
}

// flexString decodes a JSON value that may arrive as a string, a number, or
// null into a plain string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// rawRecord mirrors one search hit as the remote service ships it.
type rawRecord struct {
	ID        flexString      `json:"id"`
	Name      string          `json:"name"`
	Authors   json.RawMessage `json:"authors"`
	Year      flexString      `json:"year"`
	Language  string          `json:"language"`
	Extension string          `json:"extension"`
	Size      flexString      `json:"size"`
	Rating    flexString      `json:"rating"`
	URL       string          `json:"url"`
	Cover     string          `json:"cover"`
	Href      string          `json:"href"`
}

// parseRecord normalizes one raw search hit. A hit that is not a JSON object
// is reported as an error so the caller can skip it without aborting the
// batch.
func parseRecord(raw json.RawMessage) (Record, error) {
	var rr rawRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Record{}, fmt.Errorf("malformed record: %w", err)
	}

	rec := Record{
		ID:          string(rr.ID),
		Title:       stringOr(rr.Name, UnknownTitle),
		AuthorsText: normalizeAuthors(rr.Authors),
		Year:        stringOr(string(rr.Year), UnknownYear),
		Language:    stringOr(rr.Language, UnknownLanguage),
		Extension:   rr.Extension,
		SizeText:    string(rr.Size),
		RatingText:  stringOr(string(rr.Rating), UnknownRating),
		URL:         rr.URL,
		CoverURL:    rr.Cover,
		ref: remoteRef{
			bookID: string(rr.ID),
			href:   rr.Href,
		},
	}
	return rec, nil
}

func stringOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// normalizeAuthors flattens the dynamically shaped authors field into one
// comma-joined string. The remote ships it in three shapes: a list of objects
// carrying the author name, a list of plain strings, or a single string.
// Anything absent or unrecognizable becomes the empty string.
func normalizeAuthors(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return ""
		}
		names := make([]string, 0, len(items))
		for _, item := range items {
			if name := authorName(item); name != "" {
				names = append(names, name)
			}
		}
		return strings.Join(names, ", ")
	default:
		return ""
	}
}

// authorName extracts one author from a list element, which is either a plain
// string or an object keyed "author" (the usual shape) or "name".
func authorName(item json.RawMessage) string {
	item = bytes.TrimSpace(item)
	if len(item) == 0 {
		return ""
	}
	if item[0] == '"' {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			return ""
		}
		return s
	}

	var entry struct {
		Author string `json:"author"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(item, &entry); err != nil {
		return ""
	}
	if entry.Author != "" {
		return entry.Author
	}
	return entry.Name
}
