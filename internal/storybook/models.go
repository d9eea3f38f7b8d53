package storybook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DefaultTitle is used when the story text carries no 《...》 delimited title.
const DefaultTitle = "我的绘本"

// defaultAuthor matches the credit line the backend stories ship with.
const defaultAuthor = "AI创作"

// Storybook is a generated multi-page illustrated story derived from one
// doodle image.
type Storybook struct {
	Title          string
	Author         string
	CreatedAt      time.Time
	Pages          []Page
	CharacterImage []byte
}

// Page is a single storybook page. Image is nil when the server sent none or
// sent one the client could not decode.
type Page struct {
	Number int
	Title  string
	Text   string
	Image  []byte
}

// TotalPages returns the number of parsed pages.
func (b *Storybook) TotalPages() int {
	return len(b.Pages)
}

// HasContent reports whether the storybook holds at least one page.
func (b *Storybook) HasContent() bool {
	return len(b.Pages) > 0
}

// PageNumber decodes the page_number field, which the server has emitted over
// time as a native integer, a numeric string, and a boxed (floating point)
// number. Unparseable values leave Valid false instead of failing the whole
// response, so a single malformed page never sinks the storybook.
type PageNumber struct {
	Value int
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PageNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
	}

	if i, err := strconv.Atoi(s); err == nil {
		p.Value, p.Valid = i, true
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		p.Value, p.Valid = int(f), true
		return nil
	}
	return nil
}

var titlePattern = regexp.MustCompile("《(.*?)》")

// ExtractTitle pulls the first 《...》 delimited title out of the full story
// text, falling back to DefaultTitle.
func ExtractTitle(fullStory string) string {
	if m := titlePattern.FindStringSubmatch(fullStory); m != nil && m[1] != "" {
		return m[1]
	}
	return DefaultTitle
}

// defaultPageTitle names an untitled page by its number.
func defaultPageTitle(number int) string {
	return fmt.Sprintf("第%d页", number)
}
