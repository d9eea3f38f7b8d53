// Package storybook provides the client for the storybook generation endpoint
// and the defensive parsing that turns the server's historically drifting page
// formats into one normalized Storybook value.
package storybook

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ChenSRFurina/Paintopia/internal/transport"
)

// generateTimeout reflects multi-stage server-side generation latency.
const generateTimeout = 30 * time.Minute

// ErrGenerationFailed is returned when the server produced no usable pages,
// regardless of its top-level success flag.
var ErrGenerationFailed = errors.New("storybook generation failed")

type generateResponse struct {
	Success    bool         `json:"success"`
	FullStory  string       `json:"full_story"`
	Pages      []pageRecord `json:"pages"`
	TotalPages int          `json:"total_pages"`
	ProjectID  string       `json:"project_id"`
	Images     *imagesBlock `json:"images,omitempty"`
	Error      string       `json:"error,omitempty"`
}

type pageRecord struct {
	PageNumber PageNumber   `json:"page_number"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	Image      *imageRecord `json:"image,omitempty"`
}

type imageRecord struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data string `json:"data"`
}

type imagesBlock struct {
	CharacterImage string `json:"character_image,omitempty"`
}

// Client talks to the storybook generation endpoint.
type Client struct {
	tc *transport.Client
}

// NewClient creates a storybook client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{tc: transport.New(baseURL)}
}

// Generate submits one doodle image and returns the generated storybook.
// Malformed pages are skipped; an empty result after parsing fails with
// ErrGenerationFailed even when the server claimed success.
func (c *Client) Generate(ctx context.Context, image []byte) (*Storybook, error) {
	reqID := uuid.New().String()[:8]
	log.Printf("[%s] generating storybook, image %d bytes", reqID, len(image))

	body := map[string]string{
		"image_data": base64.StdEncoding.EncodeToString(image),
	}
	data, err := c.tc.PostJSON(ctx, "/api/generate-storybook", body, generateTimeout)
	if err != nil {
		return nil, fmt.Errorf("generate storybook: %w", err)
	}

	var resp generateResponse
	if err := transport.DecodeJSON(data, &resp); err != nil {
		return nil, fmt.Errorf("generate storybook: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("generate storybook: %w: %s", transport.ErrServerReported, resp.Error)
	}
	if !resp.Success {
		return nil, fmt.Errorf("generate storybook: %w", ErrGenerationFailed)
	}

	pages := parsePages(resp.Pages)
	if len(pages) == 0 {
		log.Printf("[%s] server returned %d page records, none usable", reqID, len(resp.Pages))
		return nil, fmt.Errorf("generate storybook: %w", ErrGenerationFailed)
	}

	book := &Storybook{
		Title:     ExtractTitle(resp.FullStory),
		Author:    defaultAuthor,
		CreatedAt: time.Now(),
		Pages:     pages,
	}
	if resp.Images != nil && resp.Images.CharacterImage != "" {
		if img, err := base64.StdEncoding.DecodeString(resp.Images.CharacterImage); err == nil {
			book.CharacterImage = img
		}
	}

	log.Printf("[%s] storybook %q parsed, %d pages (project %s)", reqID, book.Title, len(pages), resp.ProjectID)
	return book, nil
}

// parsePages keeps every record that carries a coercible page number and
// non-empty content, skipping the rest.
func parsePages(records []pageRecord) []Page {
	var pages []Page
	for _, rec := range records {
		if !rec.PageNumber.Valid || rec.Content == "" {
			continue
		}

		title := rec.Title
		if title == "" {
			title = defaultPageTitle(rec.PageNumber.Value)
		}

		pages = append(pages, Page{
			Number: rec.PageNumber.Value,
			Title:  title,
			Text:   rec.Content,
			Image:  decodePageImage(rec.Image),
		})
	}
	return pages
}

// decodePageImage extracts the embedded page illustration. An absent or
// malformed image degrades to nil, never an error.
func decodePageImage(rec *imageRecord) []byte {
	if rec == nil || rec.Data == "" {
		return nil
	}
	img, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		return nil
	}
	return img
}
