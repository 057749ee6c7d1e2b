// Package display provides the tools that put things on the user's HUD:
// "displayContent" fills the content panel and "showMap" adds a map link.
package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MrWong99/uplink/internal/hud"
	"github.com/MrWong99/uplink/internal/tools"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// mapsSearchURL is the Google Maps search endpoint used for map links.
const mapsSearchURL = "https://www.google.com/maps/search/"

// Screen receives display updates. *hud.Store implements it.
type Screen interface {
	ShowContent(hud.Content)
	AddMap(hud.MapLink)
}

type contentArgs struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

type mapArgs struct {
	Query string `json:"query"`
	Title string `json:"title"`
}

// MapURL returns the search link for query.
func MapURL(query string) string {
	v := url.Values{}
	v.Set("api", "1")
	v.Set("query", query)
	return mapsSearchURL + "?" + v.Encode()
}

// Tools returns the displayContent and showMap tools writing to screen.
func Tools(screen Screen) []tools.Tool {
	return []tools.Tool{
		{
			Definition: live.ToolDefinition{
				Name:        "displayContent",
				Description: "Show text, code or a corrected version of the user's work in the HUD content panel. Replaces whatever is currently shown.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":   map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
						"type": map[string]any{
							"type": "string",
							"enum": []string{hud.ContentText, hud.ContentCode, hud.ContentCorrection},
						},
					},
					"required": []string{"title", "content"},
				},
			},
			Handler: func(_ context.Context, args string) (string, error) {
				var a contentArgs
				if err := json.Unmarshal([]byte(args), &a); err != nil {
					return "", fmt.Errorf("display: failed to parse arguments: %w", err)
				}
				if strings.TrimSpace(a.Content) == "" {
					return "", errors.New("display: content must not be empty")
				}
				if a.Type == "" {
					a.Type = hud.ContentText
				}
				screen.ShowContent(hud.Content{Title: a.Title, Body: a.Content, Type: a.Type})
				return fmt.Sprintf("Displayed %q on the HUD.", a.Title), nil
			},
		},
		{
			Definition: live.ToolDefinition{
				Name:        "showMap",
				Description: "Show a Google Maps search link for a place or address on the HUD.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string", "description": "Place, address or search terms."},
						"title": map[string]any{"type": "string"},
					},
					"required": []string{"query"},
				},
			},
			Handler: func(_ context.Context, args string) (string, error) {
				var a mapArgs
				if err := json.Unmarshal([]byte(args), &a); err != nil {
					return "", fmt.Errorf("display: failed to parse arguments: %w", err)
				}
				q := strings.TrimSpace(a.Query)
				if q == "" {
					return "", errors.New("display: query must not be empty")
				}
				title := strings.TrimSpace(a.Title)
				if title == "" {
					title = q
				}
				uri := MapURL(q)
				screen.AddMap(hud.MapLink{URI: uri, Title: title})
				return fmt.Sprintf("Map link for %q shown on the HUD: %s", title, uri), nil
			},
		},
	}
}
