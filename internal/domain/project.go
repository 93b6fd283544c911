package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"html"
	"strings"
	"unicode"
)

var ErrNotObject = errors.New("payload is not a JSON object")

type Document struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	PlainText   string `json:"plain_text,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentHTML string `json:"content_html,omitempty"`
}

// Text returns the best available reading of the document body: the plain
// text field when present, then the raw content field, then a crude
// tag-stripped reading of the HTML field.
func (d Document) Text() string {
	if d.PlainText != "" {
		return d.PlainText
	}
	if d.Content != "" {
		return d.Content
	}
	return StripTags(d.ContentHTML)
}

type Code struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Highlight struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	CodeID     string `json:"code_id"`
}

type Category struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	ContainedCodeIDs []string `json:"contained_code_ids"`
}

// UnmarshalJSON accepts both historical spellings of the child-code list
// and coalesces them into ContainedCodeIDs.
func (c *Category) UnmarshalJSON(data []byte) error {
	var a struct {
		ID               string   `json:"id"`
		Name             string   `json:"name"`
		ContainedCodeIDs []string `json:"contained_code_ids"`
		CodeIDs          []string `json:"code_ids"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	c.ID = a.ID
	c.Name = a.Name
	c.ContainedCodeIDs = a.ContainedCodeIDs
	if len(c.ContainedCodeIDs) == 0 {
		c.ContainedCodeIDs = a.CodeIDs
	}
	return nil
}

type Memo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Project is the normalized read-only view of a raw snapshot, used for
// report generation and the persistence guards. The raw form stays the
// source of truth.
type Project struct {
	Documents         []Document  `json:"documents"`
	Codes             []Code      `json:"codes"`
	Highlights        []Highlight `json:"highlights"`
	Categories        []Category  `json:"categories"`
	Memos             []Memo      `json:"memos"`
	CoreCategoryID    string      `json:"core_category_id"`
	TheoryDescription string      `json:"theory_description"`
}

// Snapshot is the full current state of one room's project.
type Snapshot struct {
	Raw     json.RawMessage `json:"raw"`
	Project Project         `json:"project"`
	Version int64           `json:"version"`
}

// ProjectFromRaw derives the normalized view from a raw snapshot. Missing
// and unknown fields are tolerated; a non-object payload is rejected.
func ProjectFromRaw(raw []byte) (Project, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Project{}, ErrNotObject
	}
	var p Project
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return Project{}, err
	}
	return p, nil
}

func (p Project) DocumentByID(id string) *Document {
	for i := range p.Documents {
		if p.Documents[i].ID == id {
			return &p.Documents[i]
		}
	}
	return nil
}

func (p Project) CodeByID(id string) *Code {
	for i := range p.Codes {
		if p.Codes[i].ID == id {
			return &p.Codes[i]
		}
	}
	return nil
}

func (p Project) CategoryByID(id string) *Category {
	for i := range p.Categories {
		if p.Categories[i].ID == id {
			return &p.Categories[i]
		}
	}
	return nil
}

// Empty reports a metadata-only project: no documents, codes, categories
// or memos, and a blank core category and theory text.
func (p Project) Empty() bool {
	return len(p.Documents) == 0 &&
		len(p.Codes) == 0 &&
		len(p.Categories) == 0 &&
		len(p.Memos) == 0 &&
		strings.TrimSpace(p.CoreCategoryID) == "" &&
		strings.TrimSpace(p.TheoryDescription) == ""
}

// ContentChars estimates document content size as the count of
// non-whitespace characters across all document bodies. A heuristic,
// not exact text extraction.
func (p Project) ContentChars() int {
	total := 0
	for _, d := range p.Documents {
		for _, r := range d.Text() {
			if !unicode.IsSpace(r) {
				total++
			}
		}
	}
	return total
}

var emptyParagraphMarkers = []string{
	"<p></p>",
	"<p><br></p>",
	"<p><br/></p>",
	"<p><br /></p>",
}

// StripTags is a crude tag-stripping reading of an HTML fragment: known
// empty-paragraph markers are dropped, remaining tags removed, entities
// unescaped. Good enough for content-size estimates, nothing more.
func StripTags(s string) string {
	if s == "" {
		return ""
	}
	for _, m := range emptyParagraphMarkers {
		s = strings.ReplaceAll(s, m, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
			}
		case r == '<':
			inTag = true
		default:
			b.WriteRune(r)
		}
	}
	return html.UnescapeString(b.String())
}
